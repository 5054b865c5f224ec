package systems

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

// rig wires the frame systems against the headless backend.
type rig struct {
	backend  *headless.Backend
	world    *scene.World
	jobs     *JobSystem
	culling  *CullingSystem
	input    *RenderInputManager
	grd      *GlobalRenderData
	renderer *RendererSystem
}

func newRig(t *testing.T, framesInFlight int, manual bool) *rig {
	t.Helper()
	core.SetLogOutput(discard{})

	r := &rig{
		backend: headless.New(headless.Config{ManualCompletion: manual}),
		world:   scene.NewWorld(),
		jobs:    newJobSystem(t, 4, 64),
	}
	var err error
	if r.culling, err = NewCullingSystem(r.jobs, r.world); err != nil {
		t.Fatalf("NewCullingSystem:\nhave %v\nwant nil", err)
	}
	if r.input, err = NewRenderInputManager(&RenderInputConfig{MaxStreamCount: 64}, r.jobs); err != nil {
		t.Fatalf("NewRenderInputManager:\nhave %v\nwant nil", err)
	}
	if r.grd, err = NewGlobalRenderData(&GlobalRenderDataConfig{
		FramesInFlight: framesInFlight,
		MaxTextures:    16,
		MaxPatches:     8,
		MaxInstances:   64,
	}, r.backend, r.world); err != nil {
		t.Fatalf("NewGlobalRenderData:\nhave %v\nwant nil", err)
	}
	if err := RegisterBuiltinInputStreams(r.input, r.grd, r.world); err != nil {
		t.Fatalf("RegisterBuiltinInputStreams:\nhave %v\nwant nil", err)
	}
	if r.renderer, err = NewRendererSystem(&RendererSystemConfig{
		ApplicationName: "test",
		Width:           320,
		Height:          200,
		FramesInFlight:  framesInFlight,
		FenceWatchdog:   30 * time.Second,
	}, r.backend, r.world, r.culling, r.input, r.grd); err != nil {
		t.Fatalf("NewRendererSystem:\nhave %v\nwant nil", err)
	}
	t.Cleanup(func() { _ = r.input.Shutdown() })
	return r
}

func (r *rig) initialize(t *testing.T) {
	t.Helper()
	if err := RegisterBuiltinPasses(r.renderer); err != nil {
		t.Fatalf("RegisterBuiltinPasses:\nhave %v\nwant nil", err)
	}
	if err := r.renderer.Initialize(); err != nil {
		t.Fatalf("Initialize:\nhave %v\nwant nil", err)
	}
}

// gather runs culling and every gather for one frame without the renderer.
func (r *rig) gather(t *testing.T, frameIndex int) FrameContext {
	t.Helper()
	frame := FrameContext{
		FrameIndex: frameIndex,
		Width:      320,
		Height:     200,
		Camera:     r.world.CameraSnapshot(1.6),
	}
	var err error
	if frame.Culling, err = r.culling.Update(frame); err != nil {
		t.Fatalf("culling Update:\nhave %v\nwant nil", err)
	}
	if err := r.input.RenderUpdate(frame); err != nil {
		t.Fatalf("RenderUpdate:\nhave %v\nwant nil", err)
	}
	return frame
}

func (r *rig) addModel(x, y, z float32, mat scene.Material) scene.EntityID {
	return r.world.AddModel(scene.Model{
		Transform: math.NewTransformFromPosition(math.NewVec3(x, y, z)),
		Mesh:      scene.Mesh{VertexBuffer: 1, IndexBuffer: 2, VertexCount: 24, IndexCount: 36},
		Material:  mat,
	})
}

func drawFrame(t *testing.T, r *RendererSystem) {
	t.Helper()
	if err := r.DrawFrame(&metadata.RenderPacket{DeltaTime: 1.0 / 60}); err != nil {
		t.Fatalf("DrawFrame:\nhave %v\nwant nil", err)
	}
}

func TestFrameRingBlocksOnFence(t *testing.T) {
	r := newRig(t, 2, true)
	r.initialize(t)

	// Both ring slots start signaled.
	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		go func() { done <- r.renderer.DrawFrame(&metadata.RenderPacket{}) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("frame %d:\nhave %v\nwant nil", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d blocked with a free ring slot", i)
		}
	}
	if n := r.backend.Pending(); n != 2 {
		t.Fatalf("pending submissions:\nhave %d\nwant 2", n)
	}

	// Slot 0 is still owned by the GPU.
	done := make(chan error, 1)
	go func() { done <- r.renderer.DrawFrame(&metadata.RenderPacket{}) }()
	select {
	case err := <-done:
		t.Fatalf("third frame did not wait for slot 0 (err %v)", err)
	case <-time.After(100 * time.Millisecond):
	}

	if n := r.backend.Complete(1); n != 1 {
		t.Fatalf("Complete(1):\nhave %d\nwant 1", n)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("third DrawFrame:\nhave %v\nwant nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("third frame still blocked after its fence was signaled")
	}
	if n := r.renderer.FrameNumber(); n != 3 {
		t.Fatalf("FrameNumber:\nhave %d\nwant 3", n)
	}
	r.backend.Complete(-1)
}

func TestFrameStateErrors(t *testing.T) {
	r := newRig(t, 2, false)
	if err := r.renderer.BeginFrame(&metadata.RenderPacket{}); !errors.Is(err, core.ErrInvalidFrameState) {
		t.Fatalf("BeginFrame before Initialize:\nhave %v\nwant %v", err, core.ErrInvalidFrameState)
	}
	r.initialize(t)

	for name, call := range map[string]func() error{
		"RecordPasses": r.renderer.RecordPasses,
		"EndFrame":     r.renderer.EndFrame,
		"Present":      r.renderer.Present,
	} {
		if err := call(); !errors.Is(err, core.ErrInvalidFrameState) {
			t.Fatalf("%s while idle:\nhave %v\nwant %v", name, err, core.ErrInvalidFrameState)
		}
	}

	if err := r.renderer.BeginFrame(&metadata.RenderPacket{}); err != nil {
		t.Fatalf("BeginFrame:\nhave %v\nwant nil", err)
	}
	if err := r.renderer.BeginFrame(&metadata.RenderPacket{}); !errors.Is(err, core.ErrInvalidFrameState) {
		t.Fatalf("BeginFrame while recording:\nhave %v\nwant %v", err, core.ErrInvalidFrameState)
	}
	if err := r.renderer.Present(); !errors.Is(err, core.ErrInvalidFrameState) {
		t.Fatalf("Present while recording:\nhave %v\nwant %v", err, core.ErrInvalidFrameState)
	}
	if err := r.renderer.RecordPasses(); err != nil {
		t.Fatalf("RecordPasses:\nhave %v\nwant nil", err)
	}
	if err := r.renderer.EndFrame(); err != nil {
		t.Fatalf("EndFrame:\nhave %v\nwant nil", err)
	}
	if s := r.renderer.Status(); s != metadata.FrameStatusSubmitted {
		t.Fatalf("Status after EndFrame:\nhave %s\nwant %s", s, metadata.FrameStatusSubmitted)
	}
	if err := r.renderer.Present(); err != nil {
		t.Fatalf("Present:\nhave %v\nwant nil", err)
	}
	if s := r.renderer.Status(); s != metadata.FrameStatusIdle {
		t.Fatalf("Status after Present:\nhave %s\nwant %s", s, metadata.FrameStatusIdle)
	}
}

func TestPresentationFailure(t *testing.T) {
	r := newRig(t, 2, false)
	r.initialize(t)

	r.backend.SetSurfaceLost(true)
	err := r.renderer.DrawFrame(&metadata.RenderPacket{})
	if !errors.Is(err, core.ErrPresentation) {
		t.Fatalf("DrawFrame with lost surface:\nhave %v\nwant %v", err, core.ErrPresentation)
	}
	if s := r.renderer.Status(); s != metadata.FrameStatusIdle {
		t.Fatalf("Status after failed acquire:\nhave %s\nwant %s", s, metadata.FrameStatusIdle)
	}
	if n := r.renderer.FrameNumber(); n != 0 {
		t.Fatalf("FrameNumber after failed acquire:\nhave %d\nwant 0", n)
	}

	if err := r.renderer.OnResized(640, 480); err != nil {
		t.Fatalf("OnResized:\nhave %v\nwant nil", err)
	}
	drawFrame(t, r.renderer)

	r.backend.FailPresents(true)
	if err := r.renderer.DrawFrame(&metadata.RenderPacket{}); !errors.Is(err, core.ErrPresentation) {
		t.Fatalf("DrawFrame with failing present:\nhave %v\nwant %v", err, core.ErrPresentation)
	}
	// The failed frame was still submitted and counts.
	if n := r.renderer.FrameNumber(); n != 2 {
		t.Fatalf("FrameNumber after failed present:\nhave %d\nwant 2", n)
	}
	submitted, presented := r.backend.Stats()
	if submitted != 2 || presented != 1 {
		t.Fatalf("Stats:\nhave submitted=%d presented=%d\nwant submitted=2 presented=1", submitted, presented)
	}
}

func TestFailedFrameSetupReleasesImage(t *testing.T) {
	r := newRig(t, 1, false)
	r.initialize(t)

	// The image is acquired before the uniforms fail to upload.
	r.backend.FailUploads(true)
	if err := r.renderer.DrawFrame(&metadata.RenderPacket{}); err == nil {
		t.Fatal("DrawFrame with failing uploads:\nhave nil\nwant error")
	}
	if s := r.renderer.Status(); s != metadata.FrameStatusIdle {
		t.Fatalf("Status:\nhave %s\nwant %s", s, metadata.FrameStatusIdle)
	}
	if !r.renderer.frames[0].fence.IsSignaled() {
		t.Fatal("fence after failed setup: have unsignaled\nwant signaled")
	}

	// Acquiring on a semaphore nobody waited on would fail here.
	r.backend.FailUploads(false)
	drawFrame(t, r.renderer)
	if _, presented := r.backend.Stats(); presented != 1 {
		t.Fatalf("presented:\nhave %d\nwant 1", presented)
	}
}

func TestRecordedPasses(t *testing.T) {
	r := newRig(t, 2, false)
	r.addModel(0, 0, -10, scene.Material{AlbedoSlot: 3})
	r.initialize(t)
	drawFrame(t, r.renderer)

	cb := r.renderer.frames[0].commandBuffer.(*headless.CommandBuffer)
	var passes []string
	var opaqueDraws int
	for _, c := range cb.Commands() {
		switch c.Op {
		case headless.OpBeginPass:
			passes = append(passes, c.Pass)
		case headless.OpBindBindingTable:
			if c.Handle != r.grd.BindingTable(0) {
				t.Fatalf("bound table:\nhave %d\nwant %d", c.Handle, r.grd.BindingTable(0))
			}
		case headless.OpDrawIndexed:
			if c.Pass == "Opaque" {
				opaqueDraws++
				if c.Counts[0] != 36 {
					t.Fatalf("index count:\nhave %d\nwant 36", c.Counts[0])
				}
			}
		}
	}

	want := []string{"DepthPrepass", "DepthPyramid", "RayTracedShadows", "Opaque", "Lighting", "Translucent", "Tonemap", "UI"}
	if len(passes) != len(want) {
		t.Fatalf("passes:\nhave %v\nwant %v", passes, want)
	}
	for i := range want {
		if passes[i] != want[i] {
			t.Fatalf("passes:\nhave %v\nwant %v", passes, want)
		}
	}
	if opaqueDraws != 1 {
		t.Fatalf("draws in Opaque:\nhave %d\nwant 1", opaqueDraws)
	}
}

func TestFailedPassStillSignalsFence(t *testing.T) {
	r := newRig(t, 1, false)
	boom := errors.New("boom")
	if _, err := r.renderer.RegisterPass(renderer.RenderPassDescriptor{Name: "Broken"}, func(*renderer.RenderPass, *renderer.PassContext) error {
		return boom
	}); err != nil {
		t.Fatalf("RegisterPass:\nhave %v\nwant nil", err)
	}
	if err := r.renderer.Initialize(); err != nil {
		t.Fatalf("Initialize:\nhave %v\nwant nil", err)
	}

	if err := r.renderer.DrawFrame(&metadata.RenderPacket{}); !errors.Is(err, boom) {
		t.Fatalf("DrawFrame:\nhave %v\nwant %v", err, boom)
	}
	if s := r.renderer.Status(); s != metadata.FrameStatusIdle {
		t.Fatalf("Status:\nhave %s\nwant %s", s, metadata.FrameStatusIdle)
	}
	if !r.renderer.frames[0].fence.IsSignaled() {
		t.Fatal("fence after abandoned frame: have unsignaled\nwant signaled")
	}
	if _, presented := r.backend.Stats(); presented != 0 {
		t.Fatalf("presented:\nhave %d\nwant 0", presented)
	}
}

func TestRegisterPassAfterInitialize(t *testing.T) {
	r := newRig(t, 1, false)
	r.initialize(t)
	if _, err := r.renderer.RegisterPass(renderer.RenderPassDescriptor{Name: "Late"}, nil); err == nil {
		t.Fatal("RegisterPass after Initialize:\nhave nil\nwant error")
	}
}
