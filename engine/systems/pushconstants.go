package systems

import (
	"encoding/binary"

	"github.com/spaghettifunk/kiln/engine/math"
)

// Push-constant blocks of the built-in streams. Field order and padding
// match the shader side; every block is a multiple of 16 bytes.

type viewportConstants struct {
	Width     float32
	Height    float32
	InvWidth  float32
	InvHeight float32
}

type computeConstants struct {
	Width     uint32
	Height    uint32
	InvWidth  float32
	InvHeight float32
}

type modelConstants struct {
	Model       math.Mat4
	AlbedoSlot  uint32
	NormalSlot  uint32
	AlphaCutoff float32
	_           uint32
}

type instancedConstants struct {
	AlbedoSlot   uint32
	NormalSlot   uint32
	AlphaCutoff  float32
	InstanceBase uint32
}

type impostorConstants struct {
	Position  math.Vec3
	AtlasSlot uint32
	Size      math.Vec2
	_         [2]uint32
}

type terrainConstants struct {
	Position      math.Vec3
	Size          float32
	LOD           uint32
	HeightmapSlot uint32
	PatchSlot     uint32
	_             uint32
}

type grassConstants struct {
	Position   math.Vec3
	Wind       float32
	BladeCount uint32
	Time       float32
	_          [2]uint32
}

type textConstants struct {
	Position  math.Vec2
	Scale     float32
	AtlasSlot uint32
	Color     math.Vec4
}

type shadowConstants struct {
	LightDirection math.Vec4
	Width          uint32
	Height         uint32
	_              [2]uint32
}

// sizeOf returns the encoded size of a push-constant block.
func sizeOf(v interface{}) uint32 {
	return uint32(binary.Size(v))
}
