package renderer

import (
	"time"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in-render-pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording-ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	}
	return "not-allocated"
}

// Fence is signaled by the GPU when a submission completes.
type Fence interface {
	// Wait blocks until the fence is signaled or timeout elapses and reports
	// whether it was signaled.
	Wait(timeout time.Duration) bool
	Reset()
	IsSignaled() bool
}

type CommandBuffer interface {
	State() CommandBufferState
	Reset()
	Begin() error
	End() error
	BindPipeline(pipeline metadata.Handle)
	BeginPass(name string)
	EndPass()
	BindBindingTable(table metadata.Handle)
	BindVertexBuffer(binding uint32, buffer metadata.Handle, offset uint64)
	BindIndexBuffer(buffer metadata.Handle, offset uint64)
	PushConstants(data []byte)
	Draw(vertexCount, instanceCount uint32)
	DrawIndexed(indexCount, instanceCount uint32)
	Dispatch(x, y, z uint32)
	TraceRays(width, height, depth uint32)
}

// RendererBackend is everything the frame core needs from a graphics API.
// Handles are opaque; the backend owns the objects they refer to.
type RendererBackend interface {
	Initialize(appName string, width, height uint32) error
	Shutdown() error
	Resized(width, height uint32) error
	WaitIdle()

	CreateBuffer(desc metadata.BufferDescriptor) (metadata.Handle, error)
	UploadBuffer(buffer metadata.Handle, offset uint64, data []byte) error
	DestroyBuffer(buffer metadata.Handle)
	CreateTexture(desc metadata.TextureDescriptor) (metadata.Handle, error)
	DestroyTexture(texture metadata.Handle)
	CreateRenderTarget(name string, width, height uint32, depth bool) (metadata.Handle, error)

	CreateBindingTable(layout metadata.BindingTableLayout) (metadata.Handle, error)
	BindTexture(table metadata.Handle, slot uint32, texture metadata.Handle)
	BindUniformBuffer(table metadata.Handle, binding uint32, buffer metadata.Handle)
	BindStorageBuffer(table metadata.Handle, slot uint32, buffer metadata.Handle)

	CreatePipeline(desc metadata.PipelineDescriptor) (metadata.Handle, error)
	CreateCommandBuffer(name string) (CommandBuffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore(name string) (metadata.Handle, error)

	// AcquireNextImage signals the given semaphore once the target image is
	// available. A lost surface is reported as core.ErrPresentation.
	AcquireNextImage(signal metadata.Handle) (uint32, error)
	// Submit waits on wait, signals signal, and signals fence when the GPU
	// has finished executing cb. Either semaphore may be metadata.EmptyHandle.
	Submit(cb CommandBuffer, wait, signal metadata.Handle, fence Fence) error
	Present(imageIndex uint32, wait metadata.Handle) error
}
