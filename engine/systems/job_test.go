package systems

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func newJobSystem(t *testing.T, workers, queue int) *JobSystem {
	t.Helper()
	js, err := NewJobSystem(&JobSystemConfig{WorkerCount: workers, QueueSize: queue})
	if err != nil {
		t.Fatalf("NewJobSystem:\nhave %v\nwant nil", err)
	}
	t.Cleanup(func() { _ = js.Shutdown() })
	return js
}

func TestNewJobSystemRejects(t *testing.T) {
	if _, err := NewJobSystem(&JobSystemConfig{WorkerCount: 0}); !errors.Is(err, core.ErrNoWorkers) {
		t.Fatalf("WorkerCount 0:\nhave %v\nwant %v", err, core.ErrNoWorkers)
	}
	if _, err := NewJobSystem(&JobSystemConfig{WorkerCount: 1, QueueSize: -1}); !errors.Is(err, core.ErrNegativeChannelSize) {
		t.Fatalf("QueueSize -1:\nhave %v\nwant %v", err, core.ErrNegativeChannelSize)
	}
}

func TestJobCallbacks(t *testing.T) {
	js := newJobSystem(t, 2, 16)
	var succeeded, failed atomic.Bool
	ok, _ := js.Submit(metadata.JobInfo{
		Name:       "ok",
		Priority:   metadata.JOB_PRIORITY_NORMAL,
		EntryPoint: func() error { return nil },
		OnSuccess:  func() { succeeded.Store(true) },
	})
	boom := errors.New("boom")
	bad, _ := js.Submit(metadata.JobInfo{
		Name:       "bad",
		Priority:   metadata.JOB_PRIORITY_LOW,
		EntryPoint: func() error { return boom },
		OnFail:     func(error) { failed.Store(true) },
	})
	if err := ok.Wait(); err != nil {
		t.Fatalf("ok.Wait:\nhave %v\nwant nil", err)
	}
	if err := bad.Wait(); !errors.Is(err, boom) {
		t.Fatalf("bad.Wait:\nhave %v\nwant %v", err, boom)
	}
	if !ok.IsExecuted() || !bad.IsExecuted() {
		t.Fatal("IsExecuted after Wait: have false\nwant true")
	}
	if !succeeded.Load() || !failed.Load() {
		t.Fatalf("callbacks: success=%t fail=%t\nwant both true", succeeded.Load(), failed.Load())
	}
	if err := WaitAll(ok, bad); !errors.Is(err, boom) {
		t.Fatalf("WaitAll:\nhave %v\nwant %v", err, boom)
	}
}

// A single worker blocked inside a job must still make progress on the jobs
// it waits for, because Wait drains the queues.
func TestWaitDrainsQueue(t *testing.T) {
	js := newJobSystem(t, 1, 16)
	outer, _ := js.Submit(metadata.JobInfo{
		Name:     "outer",
		Priority: metadata.JOB_PRIORITY_NORMAL,
		EntryPoint: func() error {
			inner, err := js.Submit(metadata.JobInfo{
				Name:       "inner",
				Priority:   metadata.JOB_PRIORITY_NORMAL,
				EntryPoint: func() error { return nil },
			})
			if err != nil {
				return err
			}
			return inner.Wait()
		},
	})
	done := make(chan error, 1)
	go func() { done <- outer.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("outer.Wait:\nhave %v\nwant nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("nested Wait deadlocked")
	}
}

func TestDoWorkPriority(t *testing.T) {
	// The only worker is held busy so queued jobs run on the test goroutine.
	js := newJobSystem(t, 1, 16)
	started := make(chan struct{})
	release := make(chan struct{})
	blocker, _ := js.Submit(metadata.JobInfo{
		Name:     "blocker",
		Priority: metadata.JOB_PRIORITY_HIGH,
		EntryPoint: func() error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	var order []string
	record := func(name string) metadata.JobStart {
		return func() error { order = append(order, name); return nil }
	}
	low, _ := js.Submit(metadata.JobInfo{Name: "low", Priority: metadata.JOB_PRIORITY_LOW, EntryPoint: record("low")})
	high, _ := js.Submit(metadata.JobInfo{Name: "high", Priority: metadata.JOB_PRIORITY_HIGH, EntryPoint: record("high")})

	if js.DoWork(metadata.JOB_PRIORITY_NORMAL) != true {
		t.Fatal("DoWork(normal): have false\nwant true")
	}
	// Only high and above qualify for a normal drain, low stays queued.
	if js.DoWork(metadata.JOB_PRIORITY_NORMAL) {
		t.Fatal("second DoWork(normal): have true\nwant false")
	}
	if !js.DoWork(metadata.JOB_PRIORITY_LOW) {
		t.Fatal("DoWork(low): have false\nwant true")
	}
	close(release)
	_ = WaitAll(blocker, low, high)
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("execution order:\nhave %v\nwant [high low]", order)
	}
}

func TestWaitRepanics(t *testing.T) {
	js := newJobSystem(t, 1, 4)
	core.SetLogOutput(discard{})
	job, _ := js.Submit(metadata.JobInfo{
		Name:       "panics",
		Priority:   metadata.JOB_PRIORITY_NORMAL,
		EntryPoint: func() error { panic("gather exploded") },
	})
	defer func() {
		if r := recover(); r != "gather exploded" {
			t.Fatalf("recovered:\nhave %v\nwant \"gather exploded\"", r)
		}
	}()
	_ = job.Wait()
}

func TestWaitPrioritySkipsLowerWork(t *testing.T) {
	js := newJobSystem(t, 1, 16)
	started := make(chan struct{})
	release := make(chan struct{})
	blocker, _ := js.Submit(metadata.JobInfo{
		Name:     "blocker",
		Priority: metadata.JOB_PRIORITY_HIGH,
		EntryPoint: func() error {
			close(started)
			<-release
			return nil
		},
	})
	<-started

	var decoded atomic.Bool
	decode, _ := js.Submit(metadata.JobInfo{
		Name:       "decode",
		Priority:   metadata.JOB_PRIORITY_LOW,
		EntryPoint: func() error { decoded.Store(true); return nil },
	})
	gather, _ := js.Submit(metadata.JobInfo{
		Name:       "gather",
		Priority:   metadata.JOB_PRIORITY_NORMAL,
		EntryPoint: func() error { return nil },
	})

	// The worker is busy, so the gather can only run here.
	if err := gather.WaitPriority(metadata.JOB_PRIORITY_NORMAL); err != nil {
		t.Fatalf("WaitPriority:\nhave %v\nwant nil", err)
	}
	if decoded.Load() {
		t.Fatal("low priority job ran inside a normal priority wait")
	}
	close(release)
	if err := WaitAll(blocker, decode); err != nil {
		t.Fatalf("WaitAll:\nhave %v\nwant nil", err)
	}
	if !decoded.Load() {
		t.Fatal("decode never ran")
	}
}

func TestPanicRaisedOnce(t *testing.T) {
	js := newJobSystem(t, 1, 4)
	core.SetLogOutput(discard{})
	job, _ := js.Submit(metadata.JobInfo{
		Name:       "panics",
		Priority:   metadata.JOB_PRIORITY_NORMAL,
		EntryPoint: func() error { panic("gather exploded") },
	})
	func() {
		defer func() { _ = recover() }()
		_ = job.Wait()
	}()
	if err := job.Wait(); !errors.Is(err, core.ErrJobPanicked) {
		t.Fatalf("second Wait:\nhave %v\nwant %v", err, core.ErrJobPanicked)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, _ := NewJobSystem(&JobSystemConfig{WorkerCount: 1, QueueSize: 1})
	_ = js.Shutdown()
	_, err := js.Submit(metadata.JobInfo{Priority: metadata.JOB_PRIORITY_LOW, EntryPoint: func() error { return nil }})
	if !errors.Is(err, core.ErrJobSystemStopped) {
		t.Fatalf("Submit after Shutdown:\nhave %v\nwant %v", err, core.ErrJobSystemStopped)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
