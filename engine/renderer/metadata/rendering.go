package metadata

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

type PipelineKind int

const (
	PipelineKindGraphics PipelineKind = iota
	PipelineKindCompute
	PipelineKindRayTracing
)

type PipelineDescriptor struct {
	Name             string
	Kind             PipelineKind
	Layout           VertexLayout
	PushConstantSize uint32
	CullMode         FaceCullMode
	DepthTest        bool
	DepthWrite       bool
	BlendEnabled     bool
}

type BufferUsage int

const (
	BufferUsageVertex  BufferUsage = 0x1
	BufferUsageIndex   BufferUsage = 0x2
	BufferUsageUniform BufferUsage = 0x4
	BufferUsageStorage BufferUsage = 0x8
)

type BufferDescriptor struct {
	Name  string
	Usage BufferUsage
	Size  uint64
}

type TextureFlag int

const (
	/** @brief Indicates if the texture has transparency. */
	TextureFlagHasTransparency TextureFlag = 0x1
	/** @brief Indicates if the texture can be written (rendered) to. */
	TextureFlagIsWriteable TextureFlag = 0x2
	/** @brief Indicates if the texture is a depth attachment. */
	TextureFlagDepth TextureFlag = 0x4
)

type TextureDescriptor struct {
	Name         string
	Width        uint32
	Height       uint32
	ChannelCount uint8
	Flags        TextureFlag
	Pixels       []byte
}

/** @brief Shape of a binding table: how many slots of each kind it exposes. */
type BindingTableLayout struct {
	TextureSlots   uint32
	UniformBuffers uint32
	StorageSlots   uint32
}

/** @brief Binding points inside a binding table. */
const (
	UniformBindingFrameData uint32 = 0
)
