package systems

import (
	"testing"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/math"
	"github.com/spaghettifunk/kiln/engine/renderer/headless"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

func TestSystemManager(t *testing.T) {
	core.SetLogOutput(discard{})
	cfg := config.Default()
	cfg.Engine.Width, cfg.Engine.Height = 64, 64
	cfg.Bindless.TextureSlots = 8
	cfg.Bindless.PatchSlots = 4
	cfg.Bindless.MaxInstances = 16
	cfg.Streaming.TextureDir = t.TempDir()
	cfg.Streaming.Enabled = true

	backend := headless.New(headless.Config{})
	world := scene.NewWorld()
	world.AddModel(scene.Model{
		Transform: math.NewTransform(),
		Mesh:      scene.Mesh{VertexBuffer: 1, IndexBuffer: 2, IndexCount: 6},
	})

	sm, err := NewSystemManager(cfg, backend, world)
	if err != nil {
		t.Fatalf("NewSystemManager:\nhave %v\nwant nil", err)
	}
	if sm.Streamer == nil {
		t.Fatal("streaming enabled but no streamer")
	}
	if got := sm.TextureSystem.GetDefaultTexture(); got == nil || got.Slot != 0 {
		t.Fatalf("default texture:\nhave %+v\nwant slot 0", got)
	}

	tex, err := sm.TextureSystem.Acquire(metadata.TextureDescriptor{Name: "albedo", Width: 1, Height: 1, ChannelCount: 4, Pixels: make([]byte, 4)}, true)
	if err != nil {
		t.Fatalf("Acquire:\nhave %v\nwant nil", err)
	}
	sm.TextureSystem.Release("albedo")

	for i := 0; i < cfg.Engine.FramesInFlight; i++ {
		if err := sm.DrawFrame(&metadata.RenderPacket{DeltaTime: 1.0 / 60}); err != nil {
			t.Fatalf("DrawFrame %d:\nhave %v\nwant nil", i, err)
		}
	}
	if sm.Renderer.FrameNumber() != uint64(cfg.Engine.FramesInFlight) {
		t.Fatalf("FrameNumber:\nhave %d\nwant %d", sm.Renderer.FrameNumber(), cfg.Engine.FramesInFlight)
	}
	if backend.Exists(tex.Handle) {
		t.Fatal("released texture outlived the frames in flight")
	}

	if err := sm.Shutdown(); err != nil {
		t.Fatalf("Shutdown:\nhave %v\nwant nil", err)
	}
}
