package scene

import (
	"github.com/spaghettifunk/kiln/engine/math"
)

/**
 * @brief Represents the camera the world is rendered from.
 * Position and rotation go through the setters so the view matrix is
 * recalculated when needed.
 */
type Camera struct {
	Position      math.Vec3
	EulerRotation math.Vec3
	IsDirty       bool
	ViewMatrix    math.Mat4

	FOVRadians float32
	NearClip   float32
	FarClip    float32
}

// Snapshot is what the renderer needs from the camera for one frame.
type CameraSnapshot struct {
	Position   math.Vec3
	View       math.Mat4
	Projection math.Mat4
	FarClip    float32
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3Zero()
	c.FOVRadians = math.DegToRad(45)
	c.NearClip = 0.1
	c.FarClip = 1000
	c.IsDirty = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

// Forward is -Z rotated by the camera's euler angles.
func (c *Camera) Forward() math.Vec3 {
	rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
	return math.NewVec3(0, 0, -1).Transform(rotation).Normalized()
}

func (c *Camera) Right() math.Vec3 {
	return c.Forward().Cross(math.NewVec3Up()).Normalized()
}

func (c *Camera) GetView() math.Mat4 {
	if c.IsDirty {
		c.ViewMatrix = math.NewMat4LookAt(c.Position, c.Position.Add(c.Forward()), math.NewVec3Up())
		c.IsDirty = false
	}
	return c.ViewMatrix
}

func (c *Camera) Projection(aspectRatio float32) math.Mat4 {
	return math.NewMat4Perspective(c.FOVRadians, aspectRatio, c.NearClip, c.FarClip)
}

func (c *Camera) Snapshot(aspectRatio float32) CameraSnapshot {
	return CameraSnapshot{
		Position:   c.Position,
		View:       c.GetView(),
		Projection: c.Projection(aspectRatio),
		FarClip:    c.FarClip,
	}
}

func (c *Camera) MoveForward(amount float32) {
	c.Position = c.Position.Add(c.Forward().MulScalar(amount))
	c.IsDirty = true
}

func (c *Camera) MoveRight(amount float32) {
	c.Position = c.Position.Add(c.Right().MulScalar(amount))
	c.IsDirty = true
}

func (c *Camera) MoveUp(amount float32) {
	c.Position = c.Position.Add(math.NewVec3Up().MulScalar(amount))
	c.IsDirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := float32(1.55334306) // 89 degrees
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -limit, limit)

	c.IsDirty = true
}
