package core

import (
	"sync"
	"time"

	"github.com/spaghettifunk/kiln/engine/containers"
)

const DefaultMetricsWindow = 30

// FrameMetrics keeps a rolling frame time average and a once-per-second FPS count.
type FrameMetrics struct {
	mu                 sync.RWMutex
	frameTimes         *containers.RingQueue[float64]
	averageMS          float64
	frames             int
	accumulatedFrameMS float64
	fps                float64
}

func NewFrameMetrics(window int) *FrameMetrics {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	return &FrameMetrics{
		frameTimes: containers.NewRingQueue[float64](window),
	}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	if m.frameTimes.IsFull() {
		_, _ = m.frameTimes.Dequeue()
	}
	_ = m.frameTimes.Enqueue(frameMS)

	sum := 0.0
	m.frameTimes.Each(func(v float64) {
		sum += v
	})
	m.averageMS = sum / float64(m.frameTimes.Len())

	m.frames++
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the window.
func (m *FrameMetrics) FrameTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageMS
}

func (m *FrameMetrics) Frame() (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps, m.averageMS
}
