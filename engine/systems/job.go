package systems

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type JobSystemConfig struct {
	/** @brief Number of worker goroutines. */
	WorkerCount int
	/** @brief Buffered capacity of each priority queue. */
	QueueSize int
}

// JobSystem runs jobs on a fixed set of workers. Each priority has its own
// queue and higher priorities are always drained first.
type JobSystem struct {
	config *JobSystemConfig
	queues [3]chan *Job
	quit   chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// Waits on the frame goroutine leave LOW work such as texture decodes to the
// workers.
const frameWaitPriority = metadata.JOB_PRIORITY_NORMAL

// Job is the future returned by Submit.
type Job struct {
	info metadata.JobInfo
	js   *JobSystem
	done chan struct{}

	err        error
	panicValue interface{}
	// set once a waiter has re-raised panicValue
	panicked atomic.Bool
}

func NewJobSystem(config *JobSystemConfig) (*JobSystem, error) {
	if config.WorkerCount <= 0 {
		return nil, core.ErrNoWorkers
	}
	if config.QueueSize < 0 {
		return nil, core.ErrNegativeChannelSize
	}

	js := &JobSystem{
		config: config,
		quit:   make(chan struct{}),
	}
	for i := range js.queues {
		js.queues[i] = make(chan *Job, config.QueueSize)
	}
	js.start()

	core.LogDebug("job system started with %d workers", config.WorkerCount)
	return js, nil
}

func (js *JobSystem) start() {
	high := js.queues[metadata.JOB_PRIORITY_HIGH]
	normal := js.queues[metadata.JOB_PRIORITY_NORMAL]
	low := js.queues[metadata.JOB_PRIORITY_LOW]

	for i := 0; i < js.config.WorkerCount; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for {
				if js.DoWork(metadata.JOB_PRIORITY_LOW) {
					continue
				}
				select {
				case job := <-high:
					job.run()
				case job := <-normal:
					job.run()
				case job := <-low:
					job.run()
				case <-js.quit:
					return
				}
			}
		}()
	}
}

/**
 * @brief Submits the provided job to be queued for execution.
 * When the queue for its priority is full the job runs on the caller instead
 * of blocking it.
 */
func (js *JobSystem) Submit(info metadata.JobInfo) (*Job, error) {
	if info.EntryPoint == nil {
		return nil, fmt.Errorf("job '%s' has no entry point", info.Name)
	}
	if info.Priority < metadata.JOB_PRIORITY_LOW || info.Priority > metadata.JOB_PRIORITY_HIGH {
		return nil, fmt.Errorf("job '%s' has invalid priority %d", info.Name, info.Priority)
	}

	job := &Job{
		info: info,
		js:   js,
		done: make(chan struct{}),
	}

	js.mu.RLock()
	if js.stopped {
		js.mu.RUnlock()
		return nil, core.ErrJobSystemStopped
	}
	queued := true
	select {
	case js.queues[info.Priority] <- job:
	default:
		queued = false
	}
	js.mu.RUnlock()

	if !queued {
		core.LogWarn("job queue '%s' is full, running '%s' inline", info.Priority, info.Name)
		job.run()
	}
	return job, nil
}

// DoWork runs at most one queued job of the given priority or higher on the
// calling goroutine and reports whether it ran one.
func (js *JobSystem) DoWork(priority metadata.JobPriority) bool {
	for p := metadata.JOB_PRIORITY_HIGH; p >= priority; p-- {
		select {
		case job := <-js.queues[p]:
			job.run()
			return true
		default:
		}
	}
	return false
}

/**
 * @brief Shuts the job system down. Jobs already queued still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.stopped {
		js.mu.Unlock()
		return nil
	}
	js.stopped = true
	js.mu.Unlock()

	close(js.quit)
	js.wg.Wait()
	for js.DoWork(metadata.JOB_PRIORITY_LOW) {
	}
	return nil
}

func (j *Job) run() {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			j.panicValue = r
			core.LogError("job '%s' panicked: %v", j.info.Name, r)
		}
	}()

	if err := j.info.EntryPoint(); err != nil {
		j.err = err
		core.LogError("job '%s' failed: %s", j.info.Name, err.Error())
		if j.info.OnFail != nil {
			j.info.OnFail(err)
		}
		return
	}
	if j.info.OnSuccess != nil {
		j.info.OnSuccess()
	}
}

func (j *Job) Name() string {
	return j.info.Name
}

// IsExecuted reports whether the job has finished, successfully or not.
func (j *Job) IsExecuted() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the job has finished and returns its error. While
// waiting the caller runs other queued jobs of any priority instead of
// idling, so a wait from inside a job cannot starve the pool. Waiting on a nil
// job returns immediately.
func (j *Job) Wait() error {
	return j.WaitPriority(metadata.JOB_PRIORITY_LOW)
}

// WaitPriority is Wait, but the caller only helps with queued jobs of the
// given priority or higher. The first waiter to see a panicking job gets the panic
// re-raised; later waits return ErrJobPanicked.
func (j *Job) WaitPriority(priority metadata.JobPriority) error {
	if j == nil {
		return nil
	}
	var high, normal, low chan *Job
	high = j.js.queues[metadata.JOB_PRIORITY_HIGH]
	if priority <= metadata.JOB_PRIORITY_NORMAL {
		normal = j.js.queues[metadata.JOB_PRIORITY_NORMAL]
	}
	if priority <= metadata.JOB_PRIORITY_LOW {
		low = j.js.queues[metadata.JOB_PRIORITY_LOW]
	}
	for {
		// Prefer finishing over picking up more work.
		select {
		case <-j.done:
			return j.result()
		default:
		}
		// nil queues never become ready
		select {
		case <-j.done:
			return j.result()
		case other := <-high:
			other.run()
		case other := <-normal:
			other.run()
		case other := <-low:
			other.run()
		}
	}
}

func (j *Job) result() error {
	if j.panicValue != nil {
		if j.panicked.CompareAndSwap(false, true) {
			panic(j.panicValue)
		}
		return fmt.Errorf("%w: %v", core.ErrJobPanicked, j.panicValue)
	}
	return j.err
}

// WaitAll waits on every job and joins their errors.
func WaitAll(jobs ...*Job) error {
	return WaitAllPriority(metadata.JOB_PRIORITY_LOW, jobs...)
}

// WaitAllPriority is WaitAll with the draining rule of WaitPriority.
func WaitAllPriority(priority metadata.JobPriority, jobs ...*Job) error {
	var errs []error
	for _, j := range jobs {
		if err := j.WaitPriority(priority); err != nil {
			errs = append(errs, fmt.Errorf("job '%s': %w", j.Name(), err))
		}
	}
	return errors.Join(errs...)
}
