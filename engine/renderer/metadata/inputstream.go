package metadata

// InputStreamID names a gathered batch of drawables, e.g. "OpaqueModels".
type InputStreamID string

/** @brief How each entry of an input stream is turned into GPU work. */
type InputStreamMode int

const (
	InputStreamModeDraw InputStreamMode = iota
	InputStreamModeDrawIndexed
	InputStreamModeDrawIndexedInstanced
	InputStreamModeDispatch
	InputStreamModeTraceRays
)

func (m InputStreamMode) String() string {
	switch m {
	case InputStreamModeDraw:
		return "draw"
	case InputStreamModeDrawIndexed:
		return "draw-indexed"
	case InputStreamModeDrawIndexedInstanced:
		return "draw-indexed-instanced"
	case InputStreamModeDispatch:
		return "dispatch"
	case InputStreamModeTraceRays:
		return "trace-rays"
	}
	return "unknown"
}

func (m InputStreamMode) IsValid() bool {
	return m >= InputStreamModeDraw && m <= InputStreamModeTraceRays
}

type VertexFormat int

const (
	VertexFormatFloat32x2 VertexFormat = iota
	VertexFormatFloat32x3
	VertexFormatFloat32x4
	VertexFormatUint32
)

func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat32x2:
		return 8
	case VertexFormatFloat32x3:
		return 12
	case VertexFormatFloat32x4:
		return 16
	case VertexFormatUint32:
		return 4
	}
	return 0
}

type VertexInputRate int

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type VertexInputAttribute struct {
	Location uint32
	Binding  uint32
	Format   VertexFormat
	Offset   uint32
}

type VertexInputBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate VertexInputRate
}

type VertexLayout struct {
	Bindings   []VertexInputBinding
	Attributes []VertexInputAttribute
}

func (l VertexLayout) IsEmpty() bool {
	return len(l.Bindings) == 0 && len(l.Attributes) == 0
}

// NewVertexLayout packs attributes tightly into per-rate bindings: binding 0
// for per-vertex data, binding 1 for per-instance data.
func NewVertexLayout(perVertex []VertexFormat, perInstance []VertexFormat) VertexLayout {
	l := VertexLayout{}
	location := uint32(0)
	add := func(binding uint32, rate VertexInputRate, formats []VertexFormat) {
		if len(formats) == 0 {
			return
		}
		offset := uint32(0)
		for _, f := range formats {
			l.Attributes = append(l.Attributes, VertexInputAttribute{
				Location: location,
				Binding:  binding,
				Format:   f,
				Offset:   offset,
			})
			location++
			offset += f.Size()
		}
		l.Bindings = append(l.Bindings, VertexInputBinding{Binding: binding, Stride: offset, InputRate: rate})
	}
	add(0, VertexInputRateVertex, perVertex)
	add(1, VertexInputRateInstance, perInstance)
	return l
}

/**
 * @brief One drawable unit of an input stream. Dispatch and trace-rays entries
 * use the Dispatch dimensions; draw entries use the buffers and counts.
 */
type InputStreamEntry struct {
	VertexBuffer         Handle
	VertexBufferOffset   uint64
	IndexBuffer          Handle
	IndexBufferOffset    uint64
	InstanceBuffer       Handle
	InstanceBufferOffset uint64

	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32

	DispatchX uint32
	DispatchY uint32
	DispatchZ uint32

	/** @brief Byte offset of this entry's data in the stream's push-constant buffer. */
	PushConstantOffset uint64
	/** @brief Optional ordering key, e.g. squared distance to the camera. */
	SortKey float32
}

// InputStreamResult is a completed gather. The slices must not be modified;
// they are rebuilt by the next gather of the stream.
type InputStreamResult struct {
	ID               InputStreamID
	Mode             InputStreamMode
	Layout           VertexLayout
	PushConstantSize uint32
	Entries          []InputStreamEntry
	PushConstants    []byte
}
