package bindless

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// table stands in for one frame's binding table.
type table map[uint32]metadata.Handle

func (t table) bind(slot uint32, h metadata.Handle) { t[slot] = h }

const placeholder metadata.Handle = 999

func newPool(t *testing.T, capacity, frames int) *SlotPool {
	t.Helper()
	p, err := NewSlotPool("test", capacity, frames)
	if err != nil {
		t.Fatalf("NewSlotPool:\nhave %v\nwant nil", err)
	}
	return p
}

func TestNewSlotPoolRejects(t *testing.T) {
	for _, x := range [...][2]int{{0, 2}, {-1, 2}, {4, 0}} {
		if _, err := NewSlotPool("bad", x[0], x[1]); err == nil {
			t.Fatalf("NewSlotPool(%d, %d):\nhave nil\nwant error", x[0], x[1])
		}
	}
}

func TestCapacityFour(t *testing.T) {
	p := newPool(t, 4, 2)
	for want := uint32(0); want < 4; want++ {
		if slot := p.Acquire(metadata.Handle(want + 1)); slot != want {
			t.Fatalf("Acquire:\nhave %d\nwant %d", slot, want)
		}
	}
	if _, err := p.TryAcquire(5); !errors.Is(err, core.ErrSlotPoolExhausted) {
		t.Fatalf("TryAcquire on full pool:\nhave %v\nwant %v", err, core.ErrSlotPoolExhausted)
	}
	if core.AssertionsEnabled {
		func() {
			core.SetLogOutput(discard{})
			defer func() {
				if recover() == nil {
					t.Fatal("Acquire on full pool: did not assert")
				}
			}()
			p.Acquire(5)
		}()
	}
	p.Release(1)
	if slot := p.Acquire(6); slot != 1 {
		t.Fatalf("Acquire after Release(1):\nhave %d\nwant 1", slot)
	}
	if n := p.Occupied(); n != 4 {
		t.Fatalf("Occupied:\nhave %d\nwant 4", n)
	}
}

func TestCapacityNotWordAligned(t *testing.T) {
	p := newPool(t, 70, 1)
	for i := 0; i < 70; i++ {
		if _, err := p.TryAcquire(metadata.Handle(i + 1)); err != nil {
			t.Fatalf("TryAcquire #%d:\nhave %v\nwant nil", i, err)
		}
	}
	if _, err := p.TryAcquire(100); err == nil {
		t.Fatal("TryAcquire beyond capacity: have nil\nwant error")
	}
	p.Release(65)
	if slot, _ := p.TryAcquire(101); slot != 65 {
		t.Fatalf("TryAcquire after Release(65):\nhave %d\nwant 65", slot)
	}
}

func TestReleaseFreeSlotAsserts(t *testing.T) {
	if !core.AssertionsEnabled {
		t.Skip("assertions disabled")
	}
	core.SetLogOutput(discard{})
	p := newPool(t, 2, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("Release of free slot: did not assert")
		}
	}()
	p.Release(0)
}

func TestUpdatesQueuedForEveryFrame(t *testing.T) {
	p := newPool(t, 8, 3)
	a := p.Acquire(10)
	p.Acquire(11)
	p.Release(a)
	for i := 0; i < 3; i++ {
		removes, adds := p.PendingUpdates(i)
		if removes != 1 || adds != 2 {
			t.Fatalf("PendingUpdates(%d):\nhave %d removes, %d adds\nwant 1, 2", i, removes, adds)
		}
	}

	tables := []table{{}, {}, {}}
	if n := p.ApplyUpdates(0, tables[0].bind, placeholder); n != 3 {
		t.Fatalf("ApplyUpdates(0):\nhave %d binds\nwant 3", n)
	}
	// Applying frame 0 leaves the other frames untouched.
	if removes, adds := p.PendingUpdates(1); removes != 1 || adds != 2 {
		t.Fatalf("PendingUpdates(1) after applying frame 0:\nhave %d, %d\nwant 1, 2", removes, adds)
	}
	// Applied exactly once.
	if n := p.ApplyUpdates(0, tables[0].bind, placeholder); n != 0 {
		t.Fatalf("second ApplyUpdates(0):\nhave %d binds\nwant 0", n)
	}
}

func TestAddReleaseAcquireWindow(t *testing.T) {
	p := newPool(t, 4, 2)
	const first, second metadata.Handle = 1, 2

	s1 := p.Acquire(first)
	p.Release(s1)
	s2 := p.Acquire(second)
	if s1 != s2 {
		t.Fatalf("reacquired slot:\nhave %d\nwant %d", s2, s1)
	}

	for frame := 0; frame < 2; frame++ {
		tb := table{}
		p.ApplyUpdates(frame, tb.bind, placeholder)
		if h := tb[s2]; h != second {
			t.Fatalf("frame %d slot %d:\nhave %d\nwant %d", frame, s2, h, second)
		}
	}
}

func TestRemoveAppliesPlaceholder(t *testing.T) {
	p := newPool(t, 4, 1)
	tb := table{}
	s := p.Acquire(7)
	p.ApplyUpdates(0, tb.bind, placeholder)
	p.Release(s)
	p.ApplyUpdates(0, tb.bind, placeholder)
	if h := tb[s]; h != placeholder {
		t.Fatalf("slot %d after release:\nhave %d\nwant placeholder %d", s, h, placeholder)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	const capacity = 32
	p := newPool(t, capacity, 2)

	var mu sync.Mutex
	owned := make(map[uint32]bool)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var mine []uint32
			for i := 0; i < 500; i++ {
				if len(mine) > 0 && rng.Intn(2) == 0 {
					s := mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					mu.Lock()
					delete(owned, s)
					mu.Unlock()
					p.Release(s)
					continue
				}
				s, err := p.TryAcquire(metadata.Handle(i + 1))
				if err != nil {
					continue
				}
				mu.Lock()
				if owned[s] {
					mu.Unlock()
					t.Errorf("slot %d handed out twice", s)
					return
				}
				owned[s] = true
				mu.Unlock()
				mine = append(mine, s)
			}
		}(int64(g))
	}

	// A frame thread applying updates while the workers churn.
	stop := make(chan struct{})
	applied := make(chan struct{})
	go func() {
		defer close(applied)
		tb := table{}
		for {
			select {
			case <-stop:
				return
			default:
				p.ApplyUpdates(0, tb.bind, placeholder)
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-applied

	if n := p.Occupied(); n > capacity || n != len(owned) {
		t.Fatalf("Occupied:\nhave %d\nwant %d (<= %d)", n, len(owned), capacity)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
