// Package bindless hands out indices into fixed-size, shader-visible resource
// arrays and defers the resulting binding changes to each frame in flight.
package bindless

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// BindFunc rebinds one slot of a frame's binding table.
type BindFunc func(slot uint32, resource metadata.Handle)

// frameQueue holds the binding changes one frame in flight has not seen yet.
type frameQueue struct {
	removes []metadata.PendingUpdate
	adds    []metadata.PendingUpdate
}

// SlotPool is a fixed-capacity slot allocator. Every Acquire and Release is
// queued into all frame queues, so each frame in flight observes the change
// on its next ApplyUpdates.
type SlotPool struct {
	name     string
	capacity int

	mu       sync.Mutex
	words    []uint64
	occupied int
	frames   []frameQueue
}

func NewSlotPool(name string, capacity, framesInFlight int) (*SlotPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("slot pool '%s': capacity must be greater than zero, got %d", name, capacity)
	}
	if framesInFlight < 1 {
		return nil, fmt.Errorf("slot pool '%s': frames in flight must be at least 1, got %d", name, framesInFlight)
	}
	return &SlotPool{
		name:     name,
		capacity: capacity,
		words:    make([]uint64, (capacity+63)/64),
		frames:   make([]frameQueue, framesInFlight),
	}, nil
}

func (p *SlotPool) Name() string {
	return p.name
}

func (p *SlotPool) Capacity() int {
	return p.capacity
}

func (p *SlotPool) FramesInFlight() int {
	return len(p.frames)
}

func (p *SlotPool) Occupied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.occupied
}

func (p *SlotPool) IsOccupied(slot uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isSet(slot)
}

// Acquire binds resource to the lowest free slot. Running out of slots means
// the pool was sized too small and asserts; with assertions compiled out it
// returns metadata.InvalidSlot.
func (p *SlotPool) Acquire(resource metadata.Handle) uint32 {
	slot, err := p.TryAcquire(resource)
	core.Assert(err == nil, "%v", err)
	return slot
}

// TryAcquire is Acquire for callers that can back off, such as streaming.
func (p *SlotPool) TryAcquire(resource metadata.Handle) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.firstFree()
	if !ok {
		return metadata.InvalidSlot, fmt.Errorf("%w: '%s' has %d slots", core.ErrSlotPoolExhausted, p.name, p.capacity)
	}
	p.words[slot/64] |= 1 << (slot % 64)
	p.occupied++

	for i := range p.frames {
		p.frames[i].adds = append(p.frames[i].adds, metadata.PendingUpdate{
			Kind:     metadata.PendingUpdateAdd,
			Slot:     slot,
			Resource: resource,
		})
	}
	return slot, nil
}

// Release frees slot right away. Frames still holding an Add for it get a
// Remove as well, and since removes apply first, a slot that is reacquired
// before a frame's next apply ends up bound to the newer resource.
func (p *SlotPool) Release(slot uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isSet(slot) {
		core.Assert(false, "slot pool '%s': release of free slot %d", p.name, slot)
		return
	}
	p.words[slot/64] &^= 1 << (slot % 64)
	p.occupied--

	for i := range p.frames {
		p.frames[i].removes = append(p.frames[i].removes, metadata.PendingUpdate{
			Kind: metadata.PendingUpdateRemove,
			Slot: slot,
		})
	}
}

// ApplyUpdates flushes frameIndex's queue: removes are rebound to
// placeholder, then adds to their resource. The pool stays locked for the
// whole flush, so no binding is observed between the two phases.
// It returns the number of bind calls made.
func (p *SlotPool) ApplyUpdates(frameIndex int, bind BindFunc, placeholder metadata.Handle) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := &p.frames[frameIndex]
	for _, u := range q.removes {
		bind(u.Slot, placeholder)
	}
	for _, u := range q.adds {
		bind(u.Slot, u.Resource)
	}
	n := len(q.removes) + len(q.adds)
	q.removes = q.removes[:0]
	q.adds = q.adds[:0]
	return n
}

// PendingUpdates reports the queue lengths of one frame in flight.
func (p *SlotPool) PendingUpdates(frameIndex int) (removes, adds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.frames[frameIndex]
	return len(q.removes), len(q.adds)
}

func (p *SlotPool) isSet(slot uint32) bool {
	if int(slot) >= p.capacity {
		return false
	}
	return p.words[slot/64]&(1<<(slot%64)) != 0
}

func (p *SlotPool) firstFree() (uint32, bool) {
	for i, w := range p.words {
		if w == ^uint64(0) {
			continue
		}
		slot := i*64 + bits.TrailingZeros64(^w)
		if slot >= p.capacity {
			return 0, false
		}
		return uint32(slot), true
	}
	return 0, false
}
