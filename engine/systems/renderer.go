package systems

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/scene"
)

type RendererSystemConfig struct {
	ApplicationName string
	Width           uint32
	Height          uint32
	/** @brief Size of the frame-in-flight ring. */
	FramesInFlight int
	/** @brief How long a fence may stay unsignaled before it is treated as a device hang. 0 disables the check. */
	FenceWatchdog time.Duration
}

// frameState is one slot of the frame-in-flight ring.
type frameState struct {
	index          int
	fence          renderer.Fence
	commandBuffer  renderer.CommandBuffer
	imageAvailable metadata.Handle
	renderFinished metadata.Handle
}

// RendererSystem sequences a frame: it waits for the ring slot to be free,
// brings the global render data up to date, records every pass in resolved
// order, submits and presents. All of its methods are called from the frame
// goroutine.
type RendererSystem struct {
	config      *RendererSystemConfig
	backend     renderer.RendererBackend
	world       *scene.World
	culling     *CullingSystem
	renderInput *RenderInputManager
	globalData  *GlobalRenderData
	passes      *renderer.PassRegistry

	frames      []frameState
	status      metadata.FrameStatus
	frameNumber uint64
	imageIndex  uint32
	current     FrameContext

	// The current framebuffer size.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	fenceWaitInterval time.Duration
	watchdogWarnings  *rate.Limiter
	initialized       bool
}

func NewRendererSystem(config *RendererSystemConfig, backend renderer.RendererBackend, world *scene.World, culling *CullingSystem, renderInput *RenderInputManager, globalData *GlobalRenderData) (*RendererSystem, error) {
	if config.FramesInFlight < 1 {
		return nil, fmt.Errorf("frames in flight must be at least 1, got %d", config.FramesInFlight)
	}
	interval := config.FenceWatchdog / 10
	if interval < 10*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &RendererSystem{
		config:            config,
		backend:           backend,
		world:             world,
		culling:           culling,
		renderInput:       renderInput,
		globalData:        globalData,
		passes:            renderer.NewPassRegistry(),
		FramebufferWidth:  config.Width,
		FramebufferHeight: config.Height,
		fenceWaitInterval: interval,
		watchdogWarnings:  rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// RegisterPass adds a pass to the frame. Passes must be registered before
// Initialize, which fixes their order.
func (r *RendererSystem) RegisterPass(desc renderer.RenderPassDescriptor, execute renderer.ExecuteFunc) (*renderer.RenderPass, error) {
	if r.initialized {
		return nil, fmt.Errorf("render pass '%s' registered after initialization", desc.Name)
	}
	return r.passes.Register(desc, execute)
}

func (r *RendererSystem) Passes() *renderer.PassRegistry {
	return r.passes
}

// Initialize builds the frame ring and a pipeline per pass. The backend must
// already be initialized.
func (r *RendererSystem) Initialize() error {
	r.frames = make([]frameState, r.config.FramesInFlight)
	for i := range r.frames {
		fs := &r.frames[i]
		fs.index = i

		var err error
		// Created signaled so the first use of every slot does not block.
		if fs.fence, err = r.backend.CreateFence(true); err != nil {
			return fmt.Errorf("failed to create in-flight fence %d: %w", i, err)
		}
		if fs.commandBuffer, err = r.backend.CreateCommandBuffer(fmt.Sprintf("frame-%d", i)); err != nil {
			return fmt.Errorf("failed to create command buffer %d: %w", i, err)
		}
		if fs.imageAvailable, err = r.backend.CreateSemaphore(fmt.Sprintf("image-available-%d", i)); err != nil {
			return err
		}
		if fs.renderFinished, err = r.backend.CreateSemaphore(fmt.Sprintf("render-finished-%d", i)); err != nil {
			return err
		}
	}

	order, err := r.passes.Resolve()
	if err != nil {
		core.LogError("render pass graph: %s", err.Error())
		return err
	}
	for _, pass := range order {
		desc := pass.Descriptor.Pipeline
		if desc.Name == "" {
			desc.Name = pass.Descriptor.Name
		}
		if pass.Pipeline, err = r.backend.CreatePipeline(desc); err != nil {
			return fmt.Errorf("failed to create pipeline for pass '%s': %w", pass.Descriptor.Name, err)
		}
		core.LogDebug("render pass '%s' ready", pass.Descriptor.Name)
	}

	r.status = metadata.FrameStatusIdle
	r.initialized = true
	core.LogInfo("renderer initialized with %d frames in flight and %d passes", len(r.frames), len(order))
	return nil
}

// Shutdown waits for every frame in flight. The backend itself belongs to
// the caller.
func (r *RendererSystem) Shutdown() error {
	r.backend.WaitIdle()
	r.initialized = false
	return nil
}

func (r *RendererSystem) Status() metadata.FrameStatus {
	return r.status
}

// FrameNumber is the number of frames that have been through the ring.
func (r *RendererSystem) FrameNumber() uint64 {
	return r.frameNumber
}

// FrameIndex is the ring slot the current (or next) frame uses.
func (r *RendererSystem) FrameIndex() int {
	return int(r.frameNumber % uint64(len(r.frames)))
}

// BeginFrame starts gathering for the next frame, waits until its ring slot
// has been released by the GPU and opens its command buffer.
func (r *RendererSystem) BeginFrame(packet *metadata.RenderPacket) error {
	if !r.initialized {
		return fmt.Errorf("%w: BeginFrame before Initialize", core.ErrInvalidFrameState)
	}
	if r.status != metadata.FrameStatusIdle {
		return fmt.Errorf("%w: BeginFrame while %s", core.ErrInvalidFrameState, r.status)
	}

	fs := &r.frames[r.FrameIndex()]
	frame := FrameContext{
		FrameNumber: r.frameNumber,
		FrameIndex:  fs.index,
		DeltaTime:   packet.DeltaTime,
		Time:        packet.Time,
		Width:       r.FramebufferWidth,
		Height:      r.FramebufferHeight,
		Camera:      r.world.CameraSnapshot(float32(r.FramebufferWidth) / float32(max(r.FramebufferHeight, 1))),
	}

	// Culling and gathers run on the workers while this goroutine waits on
	// the fence.
	results, err := r.culling.Update(frame)
	if err != nil {
		return fmt.Errorf("failed to schedule culling: %w", err)
	}
	frame.Culling = results
	if err := r.renderInput.RenderUpdate(frame); err != nil {
		return err
	}

	r.waitForFence(fs)

	imageIndex, err := r.backend.AcquireNextImage(fs.imageAvailable)
	if err != nil {
		// The fence is still signaled, so this slot can be retried.
		if !errors.Is(err, core.ErrPresentation) {
			err = fmt.Errorf("%w: %w", core.ErrPresentation, err)
		}
		return err
	}
	r.imageIndex = imageIndex

	if err := r.globalData.Update(fs.index, frame); err != nil {
		r.releaseImage(fs)
		return err
	}

	fs.commandBuffer.Reset()
	if err := fs.commandBuffer.Begin(); err != nil {
		r.releaseImage(fs)
		return fmt.Errorf("failed to begin command buffer: %w", err)
	}
	fs.fence.Reset()

	r.current = frame
	r.status = metadata.FrameStatusRecordingCommands
	return nil
}

// RecordPasses records every pass in dependency order. If a pass fails, the
// frame is submitted as far as it was recorded, so its fence still signals,
// and is not presented.
func (r *RendererSystem) RecordPasses() error {
	if r.status != metadata.FrameStatusRecordingCommands {
		return fmt.Errorf("%w: RecordPasses while %s", core.ErrInvalidFrameState, r.status)
	}
	fs := &r.frames[r.current.FrameIndex]
	ctx := &renderer.PassContext{
		FrameIndex:    fs.index,
		CommandBuffer: fs.commandBuffer,
		BindingTable:  r.globalData.GetCurrentBindingTable(),
		Streams:       r.renderInput,
	}

	for _, pass := range r.passes.Ordered() {
		fs.commandBuffer.BindPipeline(pass.Pipeline)
		fs.commandBuffer.BeginPass(pass.Descriptor.Name)
		fs.commandBuffer.BindBindingTable(ctx.BindingTable)
		err := pass.Execute(pass, ctx)
		fs.commandBuffer.EndPass()
		if err != nil {
			core.LogError("frame %d: pass '%s' failed: %s", r.frameNumber, pass.Descriptor.Name, err.Error())
			r.abandonFrame(fs)
			return err
		}
	}
	return nil
}

// abandonFrame submits what was recorded so the slot's fence signals again,
// then moves on to the next frame without presenting. Nothing is signaled
// for Present since it will not run.
func (r *RendererSystem) abandonFrame(fs *frameState) {
	if err := fs.commandBuffer.End(); err == nil {
		if err := r.backend.Submit(fs.commandBuffer, fs.imageAvailable, metadata.EmptyHandle, fs.fence); err != nil {
			r.replaceFence(fs)
		}
	} else {
		r.releaseImage(fs)
	}
	r.status = metadata.FrameStatusIdle
	r.frameNumber++
}

// releaseImage submits an empty command buffer that waits on the acquired
// image, so imageAvailable is unsignaled again before the slot is reused.
func (r *RendererSystem) releaseImage(fs *frameState) {
	fs.commandBuffer.Reset()
	if err := fs.commandBuffer.Begin(); err != nil {
		core.LogError("frame slot %d: cannot release image %d: %s", fs.index, r.imageIndex, err.Error())
		r.replaceFence(fs)
		return
	}
	if err := fs.commandBuffer.End(); err != nil {
		core.LogError("frame slot %d: cannot release image %d: %s", fs.index, r.imageIndex, err.Error())
		r.replaceFence(fs)
		return
	}
	fs.fence.Reset()
	if err := r.backend.Submit(fs.commandBuffer, fs.imageAvailable, metadata.EmptyHandle, fs.fence); err != nil {
		core.LogError("frame slot %d: cannot release image %d: %s", fs.index, r.imageIndex, err.Error())
		r.replaceFence(fs)
	}
}

// replaceFence gives the slot a fresh signaled fence after a submission that
// will never signal the old one.
func (r *RendererSystem) replaceFence(fs *frameState) {
	fence, err := r.backend.CreateFence(true)
	if err != nil {
		core.LogError("failed to replace fence of frame slot %d: %s", fs.index, err.Error())
		return
	}
	fs.fence = fence
}

// EndFrame closes the command buffer and submits it. The submission waits on
// the image being available, signals render finished for Present and signals
// the slot's fence once the GPU is done with it.
func (r *RendererSystem) EndFrame() error {
	if r.status != metadata.FrameStatusRecordingCommands {
		return fmt.Errorf("%w: EndFrame while %s", core.ErrInvalidFrameState, r.status)
	}
	fs := &r.frames[r.current.FrameIndex]
	if err := fs.commandBuffer.End(); err != nil {
		r.abandonFrame(fs)
		return fmt.Errorf("failed to end command buffer: %w", err)
	}
	if err := r.backend.Submit(fs.commandBuffer, fs.imageAvailable, fs.renderFinished, fs.fence); err != nil {
		r.replaceFence(fs)
		r.status = metadata.FrameStatusIdle
		r.frameNumber++
		return fmt.Errorf("failed to submit frame %d: %w", r.current.FrameNumber, err)
	}
	r.status = metadata.FrameStatusSubmitted
	return nil
}

// Present hands the image to the presentation engine. A failure is returned
// as core.ErrPresentation and is not retried; the frame counts as done either
// way.
func (r *RendererSystem) Present() error {
	if r.status != metadata.FrameStatusSubmitted {
		return fmt.Errorf("%w: Present while %s", core.ErrInvalidFrameState, r.status)
	}
	fs := &r.frames[r.current.FrameIndex]
	r.status = metadata.FrameStatusPresenting
	err := r.backend.Present(r.imageIndex, fs.renderFinished)
	r.status = metadata.FrameStatusIdle
	r.frameNumber++
	if err != nil {
		if !errors.Is(err, core.ErrPresentation) {
			err = fmt.Errorf("%w: %w", core.ErrPresentation, err)
		}
		return err
	}
	return nil
}

func (r *RendererSystem) DrawFrame(packet *metadata.RenderPacket) error {
	if err := r.BeginFrame(packet); err != nil {
		return err
	}
	if err := r.RecordPasses(); err != nil {
		return err
	}
	if err := r.EndFrame(); err != nil {
		return err
	}
	return r.Present()
}

// OnResized is how the caller recovers from core.ErrPresentation.
func (r *RendererSystem) OnResized(width, height uint32) error {
	if r.status != metadata.FrameStatusIdle {
		return fmt.Errorf("%w: resize while %s", core.ErrInvalidFrameState, r.status)
	}
	r.FramebufferWidth = width
	r.FramebufferHeight = height
	return r.backend.Resized(width, height)
}

// waitForFence blocks until the GPU has released fs. There is no work to do
// instead, so this is a real block. It never gives up: a fence that outlives
// the watchdog is a device hang and asserts outside final builds.
func (r *RendererSystem) waitForFence(fs *frameState) {
	start := time.Now()
	for !fs.fence.Wait(r.fenceWaitInterval) {
		waited := time.Since(start)
		if r.watchdogWarnings.Allow() {
			core.LogWarn("frame %d: slot %d fence still unsignaled after %s", r.frameNumber, fs.index, waited.Round(time.Millisecond))
		}
		if r.config.FenceWatchdog > 0 && waited >= r.config.FenceWatchdog {
			core.Assert(false, "frame %d: slot %d fence not signaled within %s, GPU hang", r.frameNumber, fs.index, r.config.FenceWatchdog)
		}
	}
}
