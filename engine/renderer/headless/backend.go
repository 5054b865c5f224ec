// Package headless implements the renderer backend in memory. Commands are
// recorded rather than executed and GPU completion is simulated, either
// immediately on submit or when the caller completes submissions by hand.
package headless

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type objectKind int

const (
	objectBuffer objectKind = iota
	objectTexture
	objectRenderTarget
	objectBindingTable
	objectPipeline
	objectSemaphore
)

func (k objectKind) String() string {
	return [...]string{"buffer", "texture", "render-target", "binding-table", "pipeline", "semaphore"}[k]
}

type object struct {
	kind objectKind
	name string
	data []byte
	// binding tables only
	textures []metadata.Handle
	uniforms []metadata.Handle
	storage  []metadata.Handle
	// semaphores only
	signaled bool
}

type Submission struct {
	CommandBuffer *CommandBuffer
	Commands      []Command
	Wait          metadata.Handle
	Signal        metadata.Handle
	fence         *Fence
}

type Config struct {
	// ManualCompletion leaves submitted fences unsignaled until Complete is called.
	ManualCompletion bool
}

type Backend struct {
	config Config

	mu          sync.Mutex
	nextHandle  metadata.Handle
	objects     map[metadata.Handle]*object
	pending     []*Submission
	submitted   int
	presented   int
	imageIndex  uint32
	imageCount  uint32
	surfaceLost bool
	failPresent bool
	failUpload  bool
	width       uint32
	height      uint32
}

func New(config Config) *Backend {
	return &Backend{
		config:     config,
		objects:    make(map[metadata.Handle]*object),
		imageCount: 3,
	}
}

func (b *Backend) Initialize(appName string, width, height uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
	core.LogInfo("headless renderer initialized for '%s' (%dx%d)", appName, width, height)
	return nil
}

func (b *Backend) Shutdown() error {
	b.WaitIdle()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects = make(map[metadata.Handle]*object)
	return nil
}

func (b *Backend) Resized(width, height uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
	b.surfaceLost = false
	b.failPresent = false
	// a recreated swapchain starts with fresh semaphores
	for _, obj := range b.objects {
		if obj.kind == objectSemaphore {
			obj.signaled = false
		}
	}
	return nil
}

// WaitIdle completes every outstanding submission.
func (b *Backend) WaitIdle() {
	b.Complete(-1)
}

func (b *Backend) CreateBuffer(desc metadata.BufferDescriptor) (metadata.Handle, error) {
	if desc.Size == 0 {
		return metadata.EmptyHandle, fmt.Errorf("buffer '%s' has zero size", desc.Name)
	}
	return b.create(&object{kind: objectBuffer, name: desc.Name, data: make([]byte, desc.Size)}), nil
}

func (b *Backend) UploadBuffer(buffer metadata.Handle, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failUpload {
		return fmt.Errorf("upload to buffer %d: device out of memory", buffer)
	}
	obj, err := b.lookup(buffer, objectBuffer)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(obj.data)) {
		return fmt.Errorf("upload of %d bytes at offset %d overflows buffer '%s' (%d bytes)", len(data), offset, obj.name, len(obj.data))
	}
	copy(obj.data[offset:], data)
	return nil
}

func (b *Backend) DestroyBuffer(buffer metadata.Handle) {
	b.destroy(buffer)
}

func (b *Backend) CreateTexture(desc metadata.TextureDescriptor) (metadata.Handle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return metadata.EmptyHandle, fmt.Errorf("texture '%s' has zero extent", desc.Name)
	}
	pixels := make([]byte, len(desc.Pixels))
	copy(pixels, desc.Pixels)
	return b.create(&object{kind: objectTexture, name: desc.Name, data: pixels}), nil
}

func (b *Backend) DestroyTexture(texture metadata.Handle) {
	b.destroy(texture)
}

func (b *Backend) CreateRenderTarget(name string, width, height uint32, depth bool) (metadata.Handle, error) {
	if width == 0 || height == 0 {
		return metadata.EmptyHandle, fmt.Errorf("render target '%s' has zero extent", name)
	}
	return b.create(&object{kind: objectRenderTarget, name: name}), nil
}

func (b *Backend) CreateBindingTable(layout metadata.BindingTableLayout) (metadata.Handle, error) {
	return b.create(&object{
		kind:     objectBindingTable,
		textures: make([]metadata.Handle, layout.TextureSlots),
		uniforms: make([]metadata.Handle, layout.UniformBuffers),
		storage:  make([]metadata.Handle, layout.StorageSlots),
	}), nil
}

func (b *Backend) BindTexture(table metadata.Handle, slot uint32, texture metadata.Handle) {
	b.bind(table, func(t *object) []metadata.Handle { return t.textures }, slot, texture)
}

func (b *Backend) BindUniformBuffer(table metadata.Handle, binding uint32, buffer metadata.Handle) {
	b.bind(table, func(t *object) []metadata.Handle { return t.uniforms }, binding, buffer)
}

func (b *Backend) BindStorageBuffer(table metadata.Handle, slot uint32, buffer metadata.Handle) {
	b.bind(table, func(t *object) []metadata.Handle { return t.storage }, slot, buffer)
}

func (b *Backend) CreatePipeline(desc metadata.PipelineDescriptor) (metadata.Handle, error) {
	return b.create(&object{kind: objectPipeline, name: desc.Name}), nil
}

func (b *Backend) CreateCommandBuffer(name string) (renderer.CommandBuffer, error) {
	if name == "" {
		name = "command-buffer-" + uuid.NewString()
	}
	return NewCommandBuffer(name), nil
}

func (b *Backend) CreateFence(signaled bool) (renderer.Fence, error) {
	return NewFence(signaled), nil
}

func (b *Backend) CreateSemaphore(name string) (metadata.Handle, error) {
	return b.create(&object{kind: objectSemaphore, name: name}), nil
}

func (b *Backend) AcquireNextImage(signal metadata.Handle) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.surfaceLost {
		return 0, fmt.Errorf("acquire next image: %w", core.ErrPresentation)
	}
	sem, err := b.lookup(signal, objectSemaphore)
	if err != nil {
		return 0, err
	}
	if sem.signaled {
		return 0, fmt.Errorf("acquire next image: semaphore '%s' is still signaled", sem.name)
	}
	sem.signaled = true
	idx := b.imageIndex
	b.imageIndex = (b.imageIndex + 1) % b.imageCount
	return idx, nil
}

func (b *Backend) Submit(cb renderer.CommandBuffer, wait, signal metadata.Handle, fence renderer.Fence) error {
	hcb, ok := cb.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("headless backend cannot submit %T", cb)
	}
	hf, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("headless backend cannot signal %T", fence)
	}
	if s := hcb.State(); s != renderer.COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("command buffer '%s' submitted in state %s", hcb.Name, s)
	}
	hcb.setState(renderer.COMMAND_BUFFER_STATE_SUBMITTED)
	b.mu.Lock()
	b.setSignaled(wait, false)
	b.setSignaled(signal, true)
	b.mu.Unlock()

	sub := &Submission{
		CommandBuffer: hcb,
		Commands:      hcb.Commands(),
		Wait:          wait,
		Signal:        signal,
		fence:         hf,
	}
	b.mu.Lock()
	b.submitted++
	if !b.config.ManualCompletion {
		b.mu.Unlock()
		hf.signal()
		return nil
	}
	b.pending = append(b.pending, sub)
	b.mu.Unlock()
	return nil
}

func (b *Backend) Present(imageIndex uint32, wait metadata.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setSignaled(wait, false)
	if b.surfaceLost || b.failPresent {
		return fmt.Errorf("present image %d: %w", imageIndex, core.ErrPresentation)
	}
	b.presented++
	return nil
}

// Complete signals the fences of the n oldest pending submissions, or of all
// of them when n is negative. It returns how many were completed.
func (b *Backend) Complete(n int) int {
	b.mu.Lock()
	if n < 0 || n > len(b.pending) {
		n = len(b.pending)
	}
	done := b.pending[:n]
	b.pending = append([]*Submission(nil), b.pending[n:]...)
	b.mu.Unlock()

	for _, s := range done {
		s.fence.signal()
	}
	return len(done)
}

// SetSurfaceLost makes acquire and present fail until the next Resized.
func (b *Backend) SetSurfaceLost(lost bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surfaceLost = lost
}

// FailUploads makes UploadBuffer fail while set.
func (b *Backend) FailUploads(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUpload = fail
}

// setSignaled ignores the empty handle, which submissions use for "none".
// Callers hold b.mu.
func (b *Backend) setSignaled(sem metadata.Handle, signaled bool) {
	if obj, ok := b.objects[sem]; ok && obj.kind == objectSemaphore {
		obj.signaled = signaled
	}
}

// FailPresents makes Present fail until the next Resized.
func (b *Backend) FailPresents(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPresent = fail
}

func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Backend) Stats() (submitted, presented int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted, b.presented
}

// TextureBinding reports what a binding table slot currently points at.
func (b *Backend) TextureBinding(table metadata.Handle, slot uint32) metadata.Handle {
	return b.binding(table, func(t *object) []metadata.Handle { return t.textures }, slot)
}

func (b *Backend) StorageBinding(table metadata.Handle, slot uint32) metadata.Handle {
	return b.binding(table, func(t *object) []metadata.Handle { return t.storage }, slot)
}

func (b *Backend) UniformBinding(table metadata.Handle, binding uint32) metadata.Handle {
	return b.binding(table, func(t *object) []metadata.Handle { return t.uniforms }, binding)
}

// BufferData returns a copy of a buffer's contents.
func (b *Backend) BufferData(buffer metadata.Handle) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, err := b.lookup(buffer, objectBuffer)
	if err != nil {
		return nil
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out
}

func (b *Backend) Name(h metadata.Handle) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if obj, ok := b.objects[h]; ok {
		return obj.name
	}
	return ""
}

func (b *Backend) Exists(h metadata.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[h]
	return ok
}

func (b *Backend) create(obj *object) metadata.Handle {
	if obj.name == "" {
		obj.name = fmt.Sprintf("%s-%s", obj.kind, uuid.NewString())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	b.objects[b.nextHandle] = obj
	return b.nextHandle
}

func (b *Backend) destroy(h metadata.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, h)
}

func (b *Backend) lookup(h metadata.Handle, kind objectKind) (*object, error) {
	obj, ok := b.objects[h]
	if !ok {
		return nil, fmt.Errorf("unknown %s handle %d", kind, h)
	}
	if obj.kind != kind {
		return nil, fmt.Errorf("handle %d is a %s, not a %s", h, obj.kind, kind)
	}
	return obj, nil
}

func (b *Backend) bind(table metadata.Handle, slots func(*object) []metadata.Handle, slot uint32, h metadata.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, err := b.lookup(table, objectBindingTable)
	core.Assert(err == nil, "bind: %v", err)
	if err != nil {
		return
	}
	s := slots(obj)
	core.Assert(int(slot) < len(s), "bind: slot %d out of range (%d)", slot, len(s))
	if int(slot) < len(s) {
		s[slot] = h
	}
}

func (b *Backend) binding(table metadata.Handle, slots func(*object) []metadata.Handle, slot uint32) metadata.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, err := b.lookup(table, objectBindingTable)
	if err != nil {
		return metadata.EmptyHandle
	}
	s := slots(obj)
	if int(slot) >= len(s) {
		return metadata.EmptyHandle
	}
	return s[slot]
}

var _ renderer.RendererBackend = (*Backend)(nil)
