package systems

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// createHookBackend runs onCreate once, right before the next texture is
// created.
type createHookBackend struct {
	*headless.Backend
	onCreate func()
	created  metadata.Handle
}

func (b *createHookBackend) CreateTexture(desc metadata.TextureDescriptor) (metadata.Handle, error) {
	if f := b.onCreate; f != nil {
		b.onCreate = nil
		f()
	}
	h, err := b.Backend.CreateTexture(desc)
	b.created = h
	return h, err
}

func newTextureSystem(t *testing.T, r *rig, max uint32) *TextureSystem {
	t.Helper()
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: max, FramesInFlight: 2}, r.backend, r.grd)
	if err != nil {
		t.Fatalf("NewTextureSystem:\nhave %v\nwant nil", err)
	}
	if err := ts.Initialize(); err != nil {
		t.Fatalf("Initialize:\nhave %v\nwant nil", err)
	}
	return ts
}

func checker(name string) metadata.TextureDescriptor {
	return metadata.TextureDescriptor{Name: name, Width: 2, Height: 2, ChannelCount: 4, Pixels: make([]byte, 16)}
}

func TestDefaultTextureInSlotZero(t *testing.T) {
	r := newRig(t, 2, false)
	ts := newTextureSystem(t, r, 4)
	def := ts.GetDefaultTexture()
	if def == nil || def.Slot != 0 {
		t.Fatalf("default texture:\nhave %+v\nwant slot 0", def)
	}
	if got, err := ts.Acquire(metadata.TextureDescriptor{Name: DefaultTextureName}, true); err != nil || got != def {
		t.Fatalf("Acquire(default):\nhave %v, %v\nwant default texture", got, err)
	}
	ts.Release(DefaultTextureName)
	if !r.backend.Exists(def.Handle) {
		t.Fatal("default texture destroyed by Release")
	}
}

func TestTextureReferenceCounting(t *testing.T) {
	r := newRig(t, 2, false)
	ts := newTextureSystem(t, r, 4)

	a, err := ts.Acquire(checker("bricks"), true)
	if err != nil {
		t.Fatalf("Acquire:\nhave %v\nwant nil", err)
	}
	b, err := ts.Acquire(checker("bricks"), true)
	if err != nil || b != a {
		t.Fatalf("second Acquire:\nhave %v, %v\nwant same texture", b, err)
	}
	if a.Slot == 0 {
		t.Fatal("texture shares the default slot")
	}

	ts.Release("bricks")
	if _, ok := ts.Get("bricks"); !ok {
		t.Fatal("texture dropped while still referenced")
	}
	ts.Release("bricks")
	if _, ok := ts.Get("bricks"); ok {
		t.Fatal("texture still registered after last release")
	}
	if used := r.grd.TexturePool().Occupied(); used != 1 {
		t.Fatalf("slots in use:\nhave %d\nwant 1 (default only)", used)
	}

	// The GPU may still sample it for FramesInFlight frames.
	ts.Update(1)
	if !r.backend.Exists(a.Handle) {
		t.Fatal("texture destroyed while a frame in flight may sample it")
	}
	ts.Update(2)
	if r.backend.Exists(a.Handle) {
		t.Fatal("texture not destroyed after its frames retired")
	}
}

func TestTextureWithoutAutoReleaseStays(t *testing.T) {
	r := newRig(t, 1, false)
	ts := newTextureSystem(t, r, 4)
	tex, err := ts.AcquireWriteable("", 64, 64, 4, true)
	if err != nil {
		t.Fatalf("AcquireWriteable:\nhave %v\nwant nil", err)
	}
	if tex.Name == "" || tex.Flags&metadata.TextureFlagIsWriteable == 0 {
		t.Fatalf("writeable texture:\nhave %+v\nwant generated name and writeable flag", tex)
	}
	ts.Release(tex.Name)
	if _, ok := ts.Get(tex.Name); !ok {
		t.Fatal("writeable texture released")
	}
}

func TestTextureSystemFull(t *testing.T) {
	r := newRig(t, 1, false)
	ts := newTextureSystem(t, r, 1)
	if _, err := ts.Acquire(checker("one"), true); err != nil {
		t.Fatalf("Acquire:\nhave %v\nwant nil", err)
	}
	if _, err := ts.Acquire(checker("two"), true); err == nil {
		t.Fatal("Acquire past MaxTextureCount:\nhave nil\nwant error")
	}
}

func TestReplaceTexture(t *testing.T) {
	r := newRig(t, 2, false)
	ts := newTextureSystem(t, r, 4)
	tex, err := ts.Acquire(checker("grass"), true)
	if err != nil {
		t.Fatalf("Acquire:\nhave %v\nwant nil", err)
	}
	old, slot := tex.Handle, tex.Slot

	desc := checker("grass")
	desc.Width, desc.Height, desc.Pixels = 4, 4, make([]byte, 64)
	got, err := ts.Replace(desc)
	if err != nil {
		t.Fatalf("Replace:\nhave %v\nwant nil", err)
	}
	if got != tex || got.Handle == old || got.Width != 4 {
		t.Fatalf("replaced texture:\nhave %+v\nwant new handle, 4x4", got)
	}
	if got.Slot != slot {
		t.Fatalf("replaced slot:\nhave %d\nwant %d", got.Slot, slot)
	}

	frame := r.gather(t, 0)
	if err := r.grd.Update(0, frame); err != nil {
		t.Fatalf("Update:\nhave %v\nwant nil", err)
	}
	if h := r.backend.TextureBinding(r.grd.BindingTable(0), slot); h != got.Handle {
		t.Fatalf("slot %d:\nhave %d\nwant %d", slot, h, got.Handle)
	}

	ts.Update(2)
	if r.backend.Exists(old) {
		t.Fatal("old texture not destroyed")
	}

	if _, err := ts.Replace(checker("missing")); err == nil {
		t.Fatal("Replace of unknown texture:\nhave nil\nwant error")
	}
}

func TestReplaceRacingRelease(t *testing.T) {
	r := newRig(t, 2, false)
	backend := &createHookBackend{Backend: r.backend}
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4, FramesInFlight: 2}, backend, r.grd)
	if err != nil {
		t.Fatalf("NewTextureSystem:\nhave %v\nwant nil", err)
	}
	if err := ts.Initialize(); err != nil {
		t.Fatalf("Initialize:\nhave %v\nwant nil", err)
	}
	if _, err := ts.Acquire(checker("moss"), true); err != nil {
		t.Fatalf("Acquire:\nhave %v\nwant nil", err)
	}

	backend.onCreate = func() { ts.Release("moss") }
	if _, err := ts.Replace(checker("moss")); err == nil {
		t.Fatal("Replace of a texture released meanwhile:\nhave nil\nwant error")
	}
	if backend.Exists(backend.created) {
		t.Fatal("replacement texture leaked")
	}
	// only the default texture holds a slot
	if n := r.grd.TexturePool().Occupied(); n != 1 {
		t.Fatalf("occupied slots:\nhave %d\nwant 1", n)
	}
}
