package scene

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/math"
)

func TestComponentArrayRemove(t *testing.T) {
	w := NewWorld()
	a := w.AddImpostor(Impostor{AtlasSlot: 1})
	b := w.AddImpostor(Impostor{AtlasSlot: 2})
	c := w.AddImpostor(Impostor{AtlasSlot: 3})

	if !w.Remove(a) {
		t.Fatal("Remove(a): have false\nwant true")
	}
	if w.Remove(a) {
		t.Fatal("second Remove(a): have true\nwant false")
	}
	if n := w.Impostors.Len(); n != 2 {
		t.Fatalf("Len:\nhave %d\nwant 2", n)
	}
	for id, want := range map[EntityID]uint32{b: 2, c: 3} {
		imp, ok := w.Impostors.Get(id)
		if !ok || imp.AtlasSlot != want {
			t.Fatalf("Get(%d):\nhave %v, %t\nwant slot %d", id, imp, ok, want)
		}
	}
	if _, ok := w.Impostors.Get(a); ok {
		t.Fatal("Get(removed): have true\nwant false")
	}
}

func TestInstanceBase(t *testing.T) {
	w := NewWorld()
	first := w.AddInstancedModel(InstancedModel{Instances: make([]math.Mat4, 3)})
	second := w.AddInstancedModel(InstancedModel{Instances: make([]math.Mat4, 2)})
	m1, _ := w.InstancedModels.Get(first)
	m2, _ := w.InstancedModels.Get(second)
	if m1.InstanceBase != 0 || m2.InstanceBase != 3 {
		t.Fatalf("InstanceBase:\nhave %d, %d\nwant 0, 3", m1.InstanceBase, m2.InstanceBase)
	}
	if n := w.InstanceCount(); n != 5 {
		t.Fatalf("InstanceCount:\nhave %d\nwant 5", n)
	}
}

func TestInstanceRangesReclaimed(t *testing.T) {
	w := NewWorld()
	a := w.AddInstancedModel(InstancedModel{Instances: make([]math.Mat4, 40)})
	b := w.AddInstancedModel(InstancedModel{Instances: make([]math.Mat4, 4)})
	w.Remove(a)
	c := w.AddInstancedModel(InstancedModel{Instances: make([]math.Mat4, 40)})

	mb, _ := w.InstancedModels.Get(b)
	mc, _ := w.InstancedModels.Get(c)
	if mb.InstanceBase != 0 || mc.InstanceBase != 4 {
		t.Fatalf("InstanceBase:\nhave %d, %d\nwant 0, 4", mb.InstanceBase, mc.InstanceBase)
	}
	if n := w.InstanceCount(); n != 44 {
		t.Fatalf("InstanceCount:\nhave %d\nwant 44", n)
	}

	if !w.SetInstances(b, make([]math.Mat4, 1)) {
		t.Fatal("SetInstances: have false\nwant true")
	}
	mc, _ = w.InstancedModels.Get(c)
	if mc.InstanceBase != 1 || w.InstanceCount() != 41 {
		t.Fatalf("after SetInstances:\nhave base %d count %d\nwant base 1 count 41", mc.InstanceBase, w.InstanceCount())
	}
	if w.SetInstances(a, nil) {
		t.Fatal("SetInstances(removed): have true\nwant false")
	}
}

func TestPointLightLimit(t *testing.T) {
	w := NewWorld()
	for i := 0; i < MaxPointLights; i++ {
		if _, ok := w.AddPointLight(PointLight{Radius: 1}); !ok {
			t.Fatalf("AddPointLight #%d: have false\nwant true", i)
		}
	}
	if _, ok := w.AddPointLight(PointLight{}); ok {
		t.Fatal("AddPointLight beyond limit: have true\nwant false")
	}
}

func TestCameraView(t *testing.T) {
	c := NewCamera()
	c.SetPosition(math.NewVec3(0, 0, 10))
	view := c.GetView()
	if p := math.NewVec3(0, 0, 10).Transform(view); !p.Compare(math.NewVec3Zero(), 1e-4) {
		t.Fatalf("camera position in view space:\nhave %v\nwant origin", p)
	}
	if c.IsDirty {
		t.Fatal("IsDirty after GetView: have true\nwant false")
	}
	c.Pitch(10)
	if c.EulerRotation.X > 1.56 {
		t.Fatalf("Pitch clamp:\nhave %f\nwant <= 1.5533", c.EulerRotation.X)
	}
}
