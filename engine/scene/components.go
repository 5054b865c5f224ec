package scene

import (
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// Mesh references geometry already uploaded to the backend.
type Mesh struct {
	VertexBuffer      metadata.Handle
	VertexCount       uint32
	IndexBuffer       metadata.Handle
	IndexBufferOffset uint64
	IndexCount        uint32
}

// Material refers to textures by bindless slot.
type Material struct {
	AlbedoSlot  uint32
	NormalSlot  uint32
	Masked      bool
	DoubleSided bool
	AlphaCutoff float32
}

type Model struct {
	Transform *math.Transform
	Mesh      Mesh
	Material  Material
	Hidden    bool
}

// InstancedModel draws Instances copies of Mesh in one call. InstanceBase is
// the group's first element in the per-frame instance buffer and is assigned
// by the World. Change the instance count through World.SetInstances.
type InstancedModel struct {
	Mesh         Mesh
	Material     Material
	Center       math.Vec3
	Instances    []math.Mat4
	InstanceBase uint32
	Hidden       bool
}

type Impostor struct {
	Position  math.Vec3
	Size      math.Vec2
	AtlasSlot uint32
	Hidden    bool
}

// TerrainPatch is one tile of a terrain. PatchSlot indexes the bindless
// array holding per-patch data.
type TerrainPatch struct {
	Mesh          Mesh
	Position      math.Vec3
	Size          float32
	LOD           uint32
	HeightmapSlot uint32
	PatchSlot     uint32
	Hidden        bool
}

// Grass is generated in the vertex shader, BladeCount instances of
// GrassBladeVertices vertices each.
type Grass struct {
	Position   math.Vec3
	BladeCount uint32
	Wind       float32
	Hidden     bool
}

const GrassBladeVertices = 7

type Text struct {
	Content   string
	Position  math.Vec2
	Scale     float32
	Color     math.Vec4
	AtlasSlot uint32
	Hidden    bool
}

type DirectionalLight struct {
	Direction math.Vec3
	Color     math.Vec4
}

type PointLight struct {
	Position math.Vec3
	Color    math.Vec4
	Radius   float32
}
