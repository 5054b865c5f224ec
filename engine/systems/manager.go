package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

const DefaultMaxStreamCount = 64

// SystemManager owns every frame system and wires them together. There is
// no global state: everything a system needs is handed to it here.
type SystemManager struct {
	Events        *core.EventSystem
	JobSystem     *JobSystem
	Culling       *CullingSystem
	RenderInput   *RenderInputManager
	GlobalData    *GlobalRenderData
	Renderer      *RendererSystem
	TextureSystem *TextureSystem
	// Nil unless streaming is enabled.
	Streamer *TextureStreamer

	backend renderer.RendererBackend
}

// NewSystemManager builds the systems from cfg, registers the built-in input
// streams and passes, and initializes the renderer. The backend must already
// be initialized.
func NewSystemManager(cfg *config.Config, backend renderer.RendererBackend, world *scene.World) (*SystemManager, error) {
	sm := &SystemManager{
		Events:  core.NewEventSystem(),
		backend: backend,
	}
	var err error

	if sm.JobSystem, err = NewJobSystem(&JobSystemConfig{
		WorkerCount: cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
	}); err != nil {
		return nil, err
	}
	// From here on a failure must stop the workers again.
	fail := func(err error) (*SystemManager, error) {
		_ = sm.Shutdown()
		return nil, err
	}

	if sm.Culling, err = NewCullingSystem(sm.JobSystem, world); err != nil {
		return fail(err)
	}
	if sm.RenderInput, err = NewRenderInputManager(&RenderInputConfig{
		MaxStreamCount: DefaultMaxStreamCount,
	}, sm.JobSystem); err != nil {
		return fail(err)
	}
	if sm.GlobalData, err = NewGlobalRenderData(&GlobalRenderDataConfig{
		FramesInFlight: cfg.Engine.FramesInFlight,
		MaxTextures:    cfg.Bindless.TextureSlots,
		MaxPatches:     cfg.Bindless.PatchSlots,
		MaxInstances:   cfg.Bindless.MaxInstances,
	}, backend, world); err != nil {
		return fail(err)
	}
	if sm.Renderer, err = NewRendererSystem(&RendererSystemConfig{
		ApplicationName: cfg.Engine.Name,
		Width:           cfg.Engine.Width,
		Height:          cfg.Engine.Height,
		FramesInFlight:  cfg.Engine.FramesInFlight,
		FenceWatchdog:   cfg.Engine.FenceWatchdog.Duration,
	}, backend, world, sm.Culling, sm.RenderInput, sm.GlobalData); err != nil {
		return fail(err)
	}
	if sm.TextureSystem, err = NewTextureSystem(&TextureSystemConfig{
		// slot 0 holds the default texture
		MaxTextureCount: uint32(cfg.Bindless.TextureSlots - 1),
		FramesInFlight:  cfg.Engine.FramesInFlight,
	}, backend, sm.GlobalData); err != nil {
		return fail(err)
	}

	if err := RegisterBuiltinInputStreams(sm.RenderInput, sm.GlobalData, world); err != nil {
		return fail(fmt.Errorf("failed to register input streams: %w", err))
	}
	if err := RegisterBuiltinPasses(sm.Renderer); err != nil {
		return fail(fmt.Errorf("failed to register render passes: %w", err))
	}
	if err := sm.Renderer.Initialize(); err != nil {
		return fail(err)
	}
	if err := sm.TextureSystem.Initialize(); err != nil {
		return fail(err)
	}

	if cfg.Streaming.Enabled {
		if sm.Streamer, err = NewTextureStreamer(&TextureStreamerConfig{
			Root:         cfg.Streaming.TextureDir,
			MaxDimension: cfg.Streaming.MaxDimension,
		}, sm.JobSystem, sm.TextureSystem); err != nil {
			return fail(err)
		}
		if err := sm.Streamer.Start(); err != nil {
			return fail(err)
		}
	}
	return sm, nil
}

// DrawFrame renders one frame and then lets the texture system destroy what
// the frames in flight no longer sample.
func (sm *SystemManager) DrawFrame(packet *metadata.RenderPacket) error {
	err := sm.Renderer.DrawFrame(packet)
	sm.TextureSystem.Update(sm.Renderer.FrameNumber())
	return err
}

// Shutdown stops the systems in reverse dependency order. It keeps going
// past failures and reports all of them.
func (sm *SystemManager) Shutdown() error {
	var errs []error
	if sm.Streamer != nil {
		errs = append(errs, sm.Streamer.Shutdown())
	}
	if sm.RenderInput != nil {
		errs = append(errs, sm.RenderInput.Shutdown())
	}
	if sm.Renderer != nil {
		errs = append(errs, sm.Renderer.Shutdown())
	}
	if sm.TextureSystem != nil {
		errs = append(errs, sm.TextureSystem.Shutdown())
	}
	if sm.GlobalData != nil {
		errs = append(errs, sm.GlobalData.Shutdown())
	}
	if sm.JobSystem != nil {
		errs = append(errs, sm.JobSystem.Shutdown())
	}
	sm.Events.Shutdown()
	err := errors.Join(errs...)
	if err != nil {
		core.LogError("system shutdown: %s", err.Error())
	}
	return err
}
