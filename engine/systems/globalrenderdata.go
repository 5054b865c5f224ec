package systems

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/bindless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

// InstanceStride is the size of one element of the instance buffers.
const InstanceStride = 64

type GlobalRenderDataConfig struct {
	FramesInFlight int
	MaxTextures    int
	MaxPatches     int
	MaxInstances   int
}

type pointLightData struct {
	Position math.Vec4 // w is the radius
	Color    math.Vec4
}

// frameUniforms is the per-frame uniform block, std140 compatible.
type frameUniforms struct {
	View            math.Mat4
	Projection      math.Mat4
	CameraPosition  math.Vec4
	LightDirection  math.Vec4
	LightColor      math.Vec4
	PointLightCount uint32
	_               [3]uint32
	PointLights     [scene.MaxPointLights]pointLightData
}

type frameResources struct {
	bindingTable   metadata.Handle
	uniformBuffer  metadata.Handle
	instanceBuffer metadata.Handle
}

// GlobalRenderData owns everything shaders reach through the binding table:
// the bindless texture and patch arrays, the per-frame uniforms and the
// per-frame instance buffers. Each frame in flight has its own copy, so the
// copy of frame i can be rewritten while the GPU still reads frame i-1.
type GlobalRenderData struct {
	config  *GlobalRenderDataConfig
	backend renderer.RendererBackend
	world   *scene.World

	frames       []frameResources
	currentFrame int

	textures           *bindless.SlotPool
	patches            *bindless.SlotPool
	placeholderTexture metadata.Handle
	placeholderPatch   metadata.Handle

	uniformScratch  []byte
	instanceScratch []byte
}

func NewGlobalRenderData(config *GlobalRenderDataConfig, backend renderer.RendererBackend, world *scene.World) (*GlobalRenderData, error) {
	textures, err := bindless.NewSlotPool("textures", config.MaxTextures, config.FramesInFlight)
	if err != nil {
		return nil, err
	}
	patches, err := bindless.NewSlotPool("patches", config.MaxPatches, config.FramesInFlight)
	if err != nil {
		return nil, err
	}
	if config.MaxInstances <= 0 {
		return nil, fmt.Errorf("global render data: MaxInstances must be greater than zero")
	}

	grd := &GlobalRenderData{
		config:   config,
		backend:  backend,
		world:    world,
		frames:   make([]frameResources, config.FramesInFlight),
		textures: textures,
		patches:  patches,
	}
	if err := grd.createResources(); err != nil {
		return nil, err
	}
	return grd, nil
}

func (grd *GlobalRenderData) createResources() error {
	var err error
	// 2x2 magenta and black checker
	grd.placeholderTexture, err = grd.backend.CreateTexture(metadata.TextureDescriptor{
		Name:         "placeholder",
		Width:        2,
		Height:       2,
		ChannelCount: 4,
		Pixels: []byte{
			255, 0, 255, 255, 0, 0, 0, 255,
			0, 0, 0, 255, 255, 0, 255, 255,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create placeholder texture: %w", err)
	}

	grd.placeholderPatch, err = grd.backend.CreateBuffer(metadata.BufferDescriptor{
		Name:  "placeholder-patch",
		Usage: metadata.BufferUsageStorage,
		Size:  InstanceStride,
	})
	if err != nil {
		return fmt.Errorf("failed to create placeholder patch buffer: %w", err)
	}
	identity := math.NewMat4Identity()
	data, err := binary.Append(nil, binary.LittleEndian, &identity)
	if err != nil {
		return err
	}
	if err := grd.backend.UploadBuffer(grd.placeholderPatch, 0, data); err != nil {
		return err
	}

	layout := metadata.BindingTableLayout{
		TextureSlots:   uint32(grd.config.MaxTextures),
		UniformBuffers: 1,
		StorageSlots:   uint32(grd.config.MaxPatches),
	}
	for i := range grd.frames {
		f := &grd.frames[i]
		if f.bindingTable, err = grd.backend.CreateBindingTable(layout); err != nil {
			return fmt.Errorf("failed to create binding table %d: %w", i, err)
		}
		if f.uniformBuffer, err = grd.backend.CreateBuffer(metadata.BufferDescriptor{
			Name:  fmt.Sprintf("frame-uniforms-%d", i),
			Usage: metadata.BufferUsageUniform,
			Size:  uint64(binary.Size(frameUniforms{})),
		}); err != nil {
			return err
		}
		if f.instanceBuffer, err = grd.backend.CreateBuffer(metadata.BufferDescriptor{
			Name:  fmt.Sprintf("instances-%d", i),
			Usage: metadata.BufferUsageVertex | metadata.BufferUsageStorage,
			Size:  uint64(grd.config.MaxInstances) * InstanceStride,
		}); err != nil {
			return err
		}

		grd.backend.BindUniformBuffer(f.bindingTable, metadata.UniformBindingFrameData, f.uniformBuffer)
		for slot := uint32(0); slot < layout.TextureSlots; slot++ {
			grd.backend.BindTexture(f.bindingTable, slot, grd.placeholderTexture)
		}
		for slot := uint32(0); slot < layout.StorageSlots; slot++ {
			grd.backend.BindStorageBuffer(f.bindingTable, slot, grd.placeholderPatch)
		}
	}
	return nil
}

// AddTexture places texture in the bindless array and returns its index.
// Running out of slots is a sizing error and asserts.
func (grd *GlobalRenderData) AddTexture(texture metadata.Handle) uint32 {
	return grd.textures.Acquire(texture)
}

// TryAddTexture is AddTexture for callers that can back off when the array
// is full.
func (grd *GlobalRenderData) TryAddTexture(texture metadata.Handle) (uint32, error) {
	return grd.textures.TryAcquire(texture)
}

func (grd *GlobalRenderData) ReturnTexture(slot uint32) {
	grd.textures.Release(slot)
}

// AddPatchBuffer registers a terrain patch's storage buffer in the bindless
// patch array.
func (grd *GlobalRenderData) AddPatchBuffer(buffer metadata.Handle) uint32 {
	return grd.patches.Acquire(buffer)
}

func (grd *GlobalRenderData) ReturnPatchBuffer(slot uint32) {
	grd.patches.Release(slot)
}

// GetCurrentBindingTable returns the binding table of the frame being recorded.
func (grd *GlobalRenderData) GetCurrentBindingTable() metadata.Handle {
	return grd.frames[grd.currentFrame].bindingTable
}

func (grd *GlobalRenderData) BindingTable(frameIndex int) metadata.Handle {
	return grd.frames[frameIndex].bindingTable
}

func (grd *GlobalRenderData) UniformBuffer(frameIndex int) metadata.Handle {
	return grd.frames[frameIndex].uniformBuffer
}

func (grd *GlobalRenderData) InstanceBuffer(frameIndex int) metadata.Handle {
	return grd.frames[frameIndex].instanceBuffer
}

func (grd *GlobalRenderData) PlaceholderTexture() metadata.Handle {
	return grd.placeholderTexture
}

func (grd *GlobalRenderData) TexturePool() *bindless.SlotPool {
	return grd.textures
}

func (grd *GlobalRenderData) PatchPool() *bindless.SlotPool {
	return grd.patches
}

// Update brings frame frameIndex's copy up to date. It must run after the
// frame's fence has been waited on and before any pass is recorded.
func (grd *GlobalRenderData) Update(frameIndex int, frame FrameContext) error {
	grd.currentFrame = frameIndex
	f := &grd.frames[frameIndex]

	if err := grd.updateUniforms(f, frame); err != nil {
		return fmt.Errorf("failed to update frame uniforms: %w", err)
	}

	grd.textures.ApplyUpdates(frameIndex, func(slot uint32, texture metadata.Handle) {
		grd.backend.BindTexture(f.bindingTable, slot, texture)
	}, grd.placeholderTexture)

	grd.patches.ApplyUpdates(frameIndex, func(slot uint32, buffer metadata.Handle) {
		grd.backend.BindStorageBuffer(f.bindingTable, slot, buffer)
	}, grd.placeholderPatch)

	if err := grd.updateInstances(f); err != nil {
		return fmt.Errorf("failed to update instance buffer: %w", err)
	}
	return nil
}

func (grd *GlobalRenderData) updateUniforms(f *frameResources, frame FrameContext) error {
	u := frameUniforms{
		View:           frame.Camera.View,
		Projection:     frame.Camera.Projection,
		CameraPosition: frame.Camera.Position.ToVec4(1),
	}

	grd.world.RLock()
	u.LightDirection = grd.world.DirectionalLight.Direction.ToVec4(0)
	u.LightColor = grd.world.DirectionalLight.Color
	for i := 0; i < grd.world.PointLights.Len() && i < scene.MaxPointLights; i++ {
		_, l := grd.world.PointLights.At(i)
		u.PointLights[i] = pointLightData{Position: l.Position.ToVec4(l.Radius), Color: l.Color}
		u.PointLightCount++
	}
	grd.world.RUnlock()

	var err error
	grd.uniformScratch, err = binary.Append(grd.uniformScratch[:0], binary.LittleEndian, &u)
	if err != nil {
		return err
	}
	return grd.backend.UploadBuffer(f.uniformBuffer, 0, grd.uniformScratch)
}

func (grd *GlobalRenderData) updateInstances(f *frameResources) error {
	grd.world.RLock()
	defer grd.world.RUnlock()

	var used uint32
	for i := 0; i < grd.world.InstancedModels.Len(); i++ {
		_, m := grd.world.InstancedModels.At(i)
		end := m.InstanceBase + uint32(len(m.Instances))
		if int(end) > grd.config.MaxInstances {
			core.LogWarn("instanced model at base %d exceeds the instance buffer (%d), skipped", m.InstanceBase, grd.config.MaxInstances)
			continue
		}
		used = max(used, end)
	}
	if used == 0 {
		return nil
	}

	size := int(used) * InstanceStride
	if cap(grd.instanceScratch) < size {
		grd.instanceScratch = make([]byte, size)
	}
	grd.instanceScratch = grd.instanceScratch[:size]

	for i := 0; i < grd.world.InstancedModels.Len(); i++ {
		_, m := grd.world.InstancedModels.At(i)
		if m.InstanceBase+uint32(len(m.Instances)) > used {
			continue
		}
		off := int(m.InstanceBase) * InstanceStride
		for j := range m.Instances {
			for k, v := range m.Instances[j].Data {
				binary.LittleEndian.PutUint32(grd.instanceScratch[off+k*4:], gomath.Float32bits(v))
			}
			off += InstanceStride
		}
	}
	return grd.backend.UploadBuffer(f.instanceBuffer, 0, grd.instanceScratch)
}

func (grd *GlobalRenderData) Shutdown() error {
	for _, f := range grd.frames {
		grd.backend.DestroyBuffer(f.uniformBuffer)
		grd.backend.DestroyBuffer(f.instanceBuffer)
	}
	grd.backend.DestroyBuffer(grd.placeholderPatch)
	grd.backend.DestroyTexture(grd.placeholderTexture)
	return nil
}
