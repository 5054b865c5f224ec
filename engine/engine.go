package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/spaghettifunk/kiln/engine/config"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
	"github.com/spaghettifunk/kiln/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine is shut down and cannot be restarted
	EngineStageShutDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutDown:
		return "shut down"
	}
	return "unknown"
}

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *config.Config
	backend       renderer.RendererBackend
	world         *scene.World
	systemManager *systems.SystemManager

	clock    *core.Clock
	metrics  *core.FrameMetrics
	limiter  *rate.Limiter
	lastTime time.Duration

	watcher *config.Watcher
	reloads chan *config.Config

	// may be fired from any goroutine
	quit atomic.Bool
	// set by event handlers, ends Run
	fatal error
}

// New loads the game's config and prepares an engine on backend. Nothing is
// created on the backend until Initialize.
func New(g *Game, backend renderer.RendererBackend) (*Engine, error) {
	if g.ApplicationConfig == nil {
		g.ApplicationConfig = &ApplicationConfig{}
	}
	cfg := config.Default()
	if path := g.ApplicationConfig.ConfigPath; path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			core.LogError(err.Error())
			return nil, err
		}
	}
	if err := core.SetLogLevel(cfg.Engine.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", cfg.Engine.LogLevel, err)
	}

	world := scene.NewWorld()
	g.World = world
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		backend:      backend,
		world:        world,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(core.DefaultMetricsWindow),
		limiter:      rate.NewLimiter(frameLimit(cfg.Engine.TargetFPS), 1),
		reloads:      make(chan *config.Config, 1),
	}, nil
}

func frameLimit(fps float64) rate.Limit {
	if fps <= 0 {
		return rate.Inf
	}
	return rate.Limit(fps)
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine cannot initialize while %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	cfg := e.config
	if err := e.backend.Initialize(cfg.Engine.Name, cfg.Engine.Width, cfg.Engine.Height); err != nil {
		return err
	}
	sm, err := systems.NewSystemManager(cfg, e.backend, e.world)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	e.systemManager = sm
	e.gameInstance.SystemManager = sm

	// register some events
	sm.Events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	sm.Events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	sm.Events.Register(core.EVENT_CODE_DEFAULT_RENDERTARGET_REFRESH_REQUIRED, e, e.onResized)
	sm.Events.Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onEvent)

	app := e.gameInstance.ApplicationConfig
	if app.WatchConfig && app.ConfigPath != "" {
		if e.watcher, err = config.NewWatcher(app.ConfigPath, e.onConfigChanged); err != nil {
			return err
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			core.LogError("game failed to initialize: %s", err.Error())
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine '%s' initialized", cfg.Engine.Name)
	return nil
}

// Run drives frames until ctx is done, the game fails, an
// EVENT_CODE_APPLICATION_QUIT is fired or MaxFrames frames have been drawn.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.quit.Store(false)
	e.fatal = nil
	defer func() { e.currentStage = EngineStageInitialized }()
	events := e.systemManager.Events

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames
	for frames := uint64(0); maxFrames == 0 || frames < maxFrames; frames++ {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-e.reloads:
			events.Fire(core.EventContext{Type: core.EVENT_CODE_CONFIG_RELOADED, Sender: e.watcher, Data: cfg})
		default:
		}
		if e.quit.Load() {
			return nil
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		frameStart := time.Now()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err.Error())
				return err
			}
			if e.fatal != nil {
				return e.fatal
			}
		}

		err := e.systemManager.DrawFrame(&metadata.RenderPacket{
			DeltaTime: delta,
			Time:      currentTime.Seconds(),
		})
		switch {
		case err == nil:
		case errors.Is(err, core.ErrPresentation):
			core.LogWarn("frame %d: %s", frames, err.Error())
			events.Fire(core.EventContext{Type: core.EVENT_CODE_DEFAULT_RENDERTARGET_REFRESH_REQUIRED, Sender: e.systemManager.Renderer})
			if e.fatal != nil {
				return e.fatal
			}
		case errors.Is(err, core.ErrInvalidFrameState):
			return err
		default:
			// The frame was dropped but the ring is intact.
			core.LogError("frame %d: %s", frames, err.Error())
		}

		e.metrics.Update(time.Since(frameStart))
		e.lastTime = currentTime

		if err := e.limiter.Wait(ctx); err != nil {
			// only fails once ctx is done
			return nil
		}
	}
	return nil
}

// OnResized recreates the presentation target at the new size and tells the
// game about it.
func (e *Engine) OnResized(width, height uint32) error {
	if width == 0 || height == 0 {
		core.LogDebug("ignoring resize to %dx%d", width, height)
		return nil
	}
	if err := e.systemManager.Renderer.OnResized(width, height); err != nil {
		return err
	}
	e.config.Engine.Width, e.config.Engine.Height = width, height
	if e.gameInstance.FnOnResize != nil {
		return e.gameInstance.FnOnResize(width, height)
	}
	return nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	errs = append(errs, e.backend.Shutdown())

	e.currentStage = EngineStageShutDown
	fps, frameMS := e.metrics.Frame()
	core.LogInfo("engine shut down (last %.1f fps, %.2f ms/frame)", fps, frameMS)
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.config.Engine.Width, e.config.Engine.Height
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.quit.Store(true)
		return true
	case core.EVENT_CODE_CONFIG_RELOADED:
		cfg, ok := context.Data.(*config.Config)
		if !ok {
			core.LogError("wrong event associated with the event type `%d`", context.Type)
			return false
		}
		e.applyConfig(cfg)
	}
	// other listeners may want it too
	return false
}

// onResized recreates the presentation target, at the new size for
// EVENT_CODE_RESIZED and at the current one after it was lost.
func (e *Engine) onResized(context core.EventContext) bool {
	width, height := e.config.Engine.Width, e.config.Engine.Height
	if context.Type == core.EVENT_CODE_RESIZED {
		re, ok := context.Data.(*core.ResizeEvent)
		if !ok {
			core.LogError("wrong event associated with the event type `%d`", context.Type)
			return false
		}
		width, height = re.Width, re.Height
	}
	if err := e.OnResized(width, height); err != nil {
		core.LogError("resize to %dx%d failed: %s", width, height, err.Error())
		e.fatal = err
	}
	return false
}

// onConfigChanged runs on the watcher goroutine. Only the newest pending
// config is kept; the frame loop picks it up between frames.
func (e *Engine) onConfigChanged(cfg *config.Config) {
	select {
	case <-e.reloads:
	default:
	}
	e.reloads <- cfg
}

// applyConfig takes the settings that can change at runtime. Everything
// else needs a restart.
func (e *Engine) applyConfig(cfg *config.Config) {
	if err := core.SetLogLevel(cfg.Engine.LogLevel); err != nil {
		core.LogWarn("config reload: %s", err.Error())
	} else {
		e.config.Engine.LogLevel = cfg.Engine.LogLevel
	}
	e.config.Engine.TargetFPS = cfg.Engine.TargetFPS
	e.limiter.SetLimit(frameLimit(cfg.Engine.TargetFPS))
	core.LogInfo("config applied: log level %s, target fps %.1f", e.config.Engine.LogLevel, e.config.Engine.TargetFPS)
}
