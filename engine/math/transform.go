package math

func NewTransform() *Transform {
	return NewTransformFromPosition(NewVec3Zero())
}

func NewTransformFromPosition(position Vec3) *Transform {
	t := &Transform{
		Position: position,
		Scale:    NewVec3One(),
		IsDirty:  true,
	}
	return t
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetEulerRotation(rotation Vec3) {
	t.EulerRotation = rotation
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal rebuilds the local matrix if anything changed since the last call.
// Scale is applied first, then rotation, then translation.
func (t *Transform) GetLocal() Mat4 {
	if t.IsDirty {
		rotation := NewMat4EulerXYZ(t.EulerRotation.X, t.EulerRotation.Y, t.EulerRotation.Z)
		t.Local = NewMat4Scale(t.Scale).Mul(rotation).Mul(NewMat4Translation(t.Position))
		t.IsDirty = false
	}
	return t.Local
}

// Matrix returns the local matrix without updating the cached one, so it can
// be called by concurrent readers.
func (t *Transform) Matrix() Mat4 {
	if !t.IsDirty {
		return t.Local
	}
	rotation := NewMat4EulerXYZ(t.EulerRotation.X, t.EulerRotation.Y, t.EulerRotation.Z)
	return NewMat4Scale(t.Scale).Mul(rotation).Mul(NewMat4Translation(t.Position))
}
