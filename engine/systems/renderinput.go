package systems

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// GatherFunc rebuilds stream for frame. It runs on a worker and must only
// read shared state.
type GatherFunc func(stream *InputStream, frame FrameContext) error

type InputStreamDescriptor struct {
	ID               metadata.InputStreamID
	Layout           metadata.VertexLayout
	PushConstantSize uint32
	Mode             metadata.InputStreamMode
	Gather           GatherFunc
	UserData         interface{}
}

// InputStream is one independently gathered batch of drawables. The entries
// and push-constant bytes are owned by the gather job while it runs and are
// read by anyone else only after it has finished.
type InputStream struct {
	desc InputStreamDescriptor

	entries       []metadata.InputStreamEntry
	pushConstants []byte
	job           *Job

	// reused by SortEntries
	order       []int
	scratch     []metadata.InputStreamEntry
	scratchData []byte
}

func (s *InputStream) ID() metadata.InputStreamID {
	return s.desc.ID
}

func (s *InputStream) Mode() metadata.InputStreamMode {
	return s.desc.Mode
}

func (s *InputStream) PushConstantSize() uint32 {
	return s.desc.PushConstantSize
}

func (s *InputStream) UserData() interface{} {
	return s.desc.UserData
}

func (s *InputStream) Len() int {
	return len(s.entries)
}

// Reset drops the previous result, keeping the allocations.
func (s *InputStream) Reset() {
	s.entries = s.entries[:0]
	s.pushConstants = s.pushConstants[:0]
}

// Append adds entry with its push-constant bytes, which must be exactly the
// size declared at registration.
func (s *InputStream) Append(entry metadata.InputStreamEntry, pushConstants []byte) error {
	if uint32(len(pushConstants)) != s.desc.PushConstantSize {
		return fmt.Errorf("%w: stream '%s' declares %d bytes, got %d", core.ErrPushConstantSize, s.desc.ID, s.desc.PushConstantSize, len(pushConstants))
	}
	entry.PushConstantOffset = uint64(len(s.pushConstants))
	s.pushConstants = append(s.pushConstants, pushConstants...)
	s.entries = append(s.entries, entry)
	return nil
}

// AppendStruct encodes pc little-endian straight into the push-constant
// buffer. pc must be a fixed-size value as understood by encoding/binary.
func (s *InputStream) AppendStruct(entry metadata.InputStreamEntry, pc interface{}) error {
	before := len(s.pushConstants)
	buf, err := binary.Append(s.pushConstants, binary.LittleEndian, pc)
	if err != nil {
		return fmt.Errorf("stream '%s': %w", s.desc.ID, err)
	}
	if n := uint32(len(buf) - before); n != s.desc.PushConstantSize {
		s.pushConstants = buf[:before]
		return fmt.Errorf("%w: stream '%s' declares %d bytes, got %d", core.ErrPushConstantSize, s.desc.ID, s.desc.PushConstantSize, n)
	}
	entry.PushConstantOffset = uint64(before)
	s.pushConstants = buf
	s.entries = append(s.entries, entry)
	return nil
}

// SortEntries stably reorders the entries by cmp and moves their
// push-constant bytes along, so offsets stay in entry order.
func (s *InputStream) SortEntries(cmp func(a, b metadata.InputStreamEntry) int) {
	n := len(s.entries)
	if n < 2 {
		return
	}
	s.order = s.order[:0]
	for i := 0; i < n; i++ {
		s.order = append(s.order, i)
	}
	slices.SortStableFunc(s.order, func(a, b int) int {
		return cmp(s.entries[a], s.entries[b])
	})

	size := uint64(s.desc.PushConstantSize)
	s.scratch = s.scratch[:0]
	s.scratchData = s.scratchData[:0]
	for _, i := range s.order {
		e := s.entries[i]
		s.scratchData = append(s.scratchData, s.pushConstants[e.PushConstantOffset:e.PushConstantOffset+size]...)
		e.PushConstantOffset = uint64(len(s.scratch)) * size
		s.scratch = append(s.scratch, e)
	}
	s.entries, s.scratch = s.scratch, s.entries
	s.pushConstants, s.scratchData = s.scratchData, s.pushConstants
}

func (s *InputStream) result() metadata.InputStreamResult {
	return metadata.InputStreamResult{
		ID:               s.desc.ID,
		Mode:             s.desc.Mode,
		Layout:           s.desc.Layout,
		PushConstantSize: s.desc.PushConstantSize,
		Entries:          s.entries,
		PushConstants:    s.pushConstants,
	}
}

type RenderInputConfig struct {
	/** @brief The maximum number of streams that can be registered. */
	MaxStreamCount int
}

// RenderInputManager owns every input stream and schedules their gathers.
// Registration happens at startup; RenderUpdate and GetInputStream are
// called from the frame goroutine.
type RenderInputManager struct {
	config    *RenderInputConfig
	jobSystem *JobSystem

	mu      sync.RWMutex
	streams []*InputStream
	lookup  map[metadata.InputStreamID]*InputStream
}

func NewRenderInputManager(config *RenderInputConfig, js *JobSystem) (*RenderInputManager, error) {
	if config.MaxStreamCount <= 0 {
		err := fmt.Errorf("func NewRenderInputManager - config.MaxStreamCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &RenderInputManager{
		config:    config,
		jobSystem: js,
		lookup:    make(map[metadata.InputStreamID]*InputStream, config.MaxStreamCount),
	}, nil
}

func (m *RenderInputManager) RegisterInputStream(desc InputStreamDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("input stream id is required")
	}
	if desc.Gather == nil {
		return fmt.Errorf("input stream '%s' has no gather callback", desc.ID)
	}
	if !desc.Mode.IsValid() {
		return fmt.Errorf("input stream '%s' has invalid mode %d", desc.ID, desc.Mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup[desc.ID]; ok {
		return fmt.Errorf("%w: '%s'", core.ErrDuplicateInputStream, desc.ID)
	}
	if len(m.streams) >= m.config.MaxStreamCount {
		return fmt.Errorf("cannot register input stream '%s', limit of %d reached", desc.ID, m.config.MaxStreamCount)
	}
	s := &InputStream{desc: desc}
	m.streams = append(m.streams, s)
	m.lookup[desc.ID] = s
	core.LogDebug("registered input stream '%s' (%s, %d byte push constants)", desc.ID, desc.Mode, desc.PushConstantSize)
	return nil
}

// RenderUpdate waits for each stream's previous gather, draining other work
// meanwhile, and schedules a new one for frame.
func (m *RenderInputManager) RenderUpdate(frame FrameContext) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.streams {
		// A failed gather was logged by the job; the new one starts clean.
		_ = s.job.WaitPriority(frameWaitPriority)

		stream := s
		job, err := m.jobSystem.Submit(metadata.JobInfo{
			Name:     "gather-" + string(s.desc.ID),
			Priority: metadata.JOB_PRIORITY_NORMAL,
			EntryPoint: func() error {
				return stream.desc.Gather(stream, frame)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to schedule gather for '%s': %w", s.desc.ID, err)
		}
		s.job = job
	}
	return nil
}

// GetInputStream waits for the stream's current gather and returns its
// result, which stays valid until the next RenderUpdate.
func (m *RenderInputManager) GetInputStream(id metadata.InputStreamID) (metadata.InputStreamResult, error) {
	m.mu.RLock()
	s, ok := m.lookup[id]
	m.mu.RUnlock()
	if !ok {
		return metadata.InputStreamResult{}, fmt.Errorf("%w: '%s'", core.ErrInputStreamNotFound, id)
	}
	if err := s.job.WaitPriority(frameWaitPriority); err != nil {
		return metadata.InputStreamResult{}, fmt.Errorf("gather '%s' failed: %w", id, err)
	}
	return s.result(), nil
}

func (m *RenderInputManager) InputStreamIDs() []metadata.InputStreamID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]metadata.InputStreamID, 0, len(m.streams))
	for _, s := range m.streams {
		ids = append(ids, s.desc.ID)
	}
	return ids
}

// WaitIdle blocks until no gather is running.
func (m *RenderInputManager) WaitIdle() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.streams))
	for _, s := range m.streams {
		jobs = append(jobs, s.job)
	}
	return WaitAllPriority(frameWaitPriority, jobs...)
}

func (m *RenderInputManager) Shutdown() error {
	if err := m.WaitIdle(); err != nil {
		core.LogWarn("render input shutdown: %s", err.Error())
	}
	return nil
}
