package headless

import (
	"sync"
	"time"
)

// Fence is signaled by the simulated GPU when the submission it was handed
// to completes.
type Fence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{}
}

func NewFence(createSignaled bool) *Fence {
	f := &Fence{
		ch: make(chan struct{}),
	}
	if createSignaled {
		f.signaled = true
		close(f.ch)
	}
	return f
}

func (f *Fence) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	if f.signaled {
		f.mu.Unlock()
		return true
	}
	ch := f.ch
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func (f *Fence) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
}

func (f *Fence) IsSignaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
}
