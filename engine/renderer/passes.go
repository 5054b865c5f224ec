package renderer

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// StreamSource hands out completed input stream results. Implementations
// block until the stream's current gather has finished.
type StreamSource interface {
	GetInputStream(id metadata.InputStreamID) (metadata.InputStreamResult, error)
}

type RenderPassDescriptor struct {
	Name     string
	Pipeline metadata.PipelineDescriptor
	// Inputs and Outputs name the attachments a pass reads and writes; they
	// only drive ordering.
	Inputs  []string
	Outputs []string
	Streams []metadata.InputStreamID
}

type PassContext struct {
	FrameIndex    int
	CommandBuffer CommandBuffer
	BindingTable  metadata.Handle
	Streams       StreamSource
}

type ExecuteFunc func(pass *RenderPass, ctx *PassContext) error

type RenderPass struct {
	Descriptor RenderPassDescriptor
	Execute    ExecuteFunc
	// Pipeline is filled in once the backend has created it.
	Pipeline metadata.Handle
	index    int
}

type PassRegistry struct {
	passes []*RenderPass
	lookup map[string]*RenderPass
	order  []*RenderPass
}

func NewPassRegistry() *PassRegistry {
	return &PassRegistry{
		lookup: make(map[string]*RenderPass),
	}
}

// Register adds a pass. A nil execute records the pass streams with DrawInputStreams.
func (r *PassRegistry) Register(desc RenderPassDescriptor, execute ExecuteFunc) (*RenderPass, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("render pass name is required")
	}
	if _, ok := r.lookup[desc.Name]; ok {
		return nil, fmt.Errorf("a render pass named '%s' already exists", desc.Name)
	}
	if execute == nil {
		execute = DrawInputStreams
	}
	pass := &RenderPass{
		Descriptor: desc,
		Execute:    execute,
		index:      len(r.passes),
	}
	r.passes = append(r.passes, pass)
	r.lookup[desc.Name] = pass
	r.order = nil
	return pass, nil
}

func (r *PassRegistry) Get(name string) (*RenderPass, bool) {
	p, ok := r.lookup[name]
	return p, ok
}

func (r *PassRegistry) Passes() []*RenderPass {
	return r.passes
}

// Resolve orders passes so that every producer of a resource runs before its
// consumers. Among passes that are ready at the same time registration order
// wins. Inputs nobody produces are treated as external.
func (r *PassRegistry) Resolve() ([]*RenderPass, error) {
	producers := make(map[string][]*RenderPass)
	for _, p := range r.passes {
		for _, out := range p.Descriptor.Outputs {
			producers[out] = append(producers[out], p)
		}
	}

	indegree := make([]int, len(r.passes))
	edges := make([][]int, len(r.passes))
	for _, p := range r.passes {
		seen := make(map[int]bool)
		for _, in := range p.Descriptor.Inputs {
			for _, src := range producers[in] {
				if src == p || seen[src.index] {
					continue
				}
				seen[src.index] = true
				edges[src.index] = append(edges[src.index], p.index)
				indegree[p.index]++
			}
		}
	}

	order := make([]*RenderPass, 0, len(r.passes))
	done := make([]bool, len(r.passes))
	for len(order) < len(r.passes) {
		next := -1
		for i := range r.passes {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, p := range r.passes {
				if !done[i] {
					stuck = append(stuck, p.Descriptor.Name)
				}
			}
			return nil, fmt.Errorf("%w: %v", core.ErrPassCycle, stuck)
		}
		done[next] = true
		order = append(order, r.passes[next])
		for _, dst := range edges[next] {
			indegree[dst]--
		}
	}
	r.order = order
	return order, nil
}

// Ordered returns the last resolved order, or nil before Resolve.
func (r *PassRegistry) Ordered() []*RenderPass {
	return r.order
}

// DrawInputStreams issues one draw, dispatch or trace call per entry of every
// stream the pass consumes.
func DrawInputStreams(pass *RenderPass, ctx *PassContext) error {
	for _, id := range pass.Descriptor.Streams {
		stream, err := ctx.Streams.GetInputStream(id)
		if err != nil {
			return fmt.Errorf("pass '%s': %w", pass.Descriptor.Name, err)
		}
		RecordInputStream(ctx.CommandBuffer, stream)
	}
	return nil
}

func RecordInputStream(cb CommandBuffer, stream metadata.InputStreamResult) {
	size := uint64(stream.PushConstantSize)
	for _, e := range stream.Entries {
		if size > 0 {
			cb.PushConstants(stream.PushConstants[e.PushConstantOffset : e.PushConstantOffset+size])
		}
		instances := max(e.InstanceCount, 1)
		switch stream.Mode {
		case metadata.InputStreamModeDraw:
			if e.VertexBuffer.IsValid() {
				cb.BindVertexBuffer(0, e.VertexBuffer, e.VertexBufferOffset)
			}
			cb.Draw(e.VertexCount, instances)
		case metadata.InputStreamModeDrawIndexed:
			cb.BindVertexBuffer(0, e.VertexBuffer, e.VertexBufferOffset)
			cb.BindIndexBuffer(e.IndexBuffer, e.IndexBufferOffset)
			cb.DrawIndexed(e.IndexCount, 1)
		case metadata.InputStreamModeDrawIndexedInstanced:
			cb.BindVertexBuffer(0, e.VertexBuffer, e.VertexBufferOffset)
			cb.BindVertexBuffer(1, e.InstanceBuffer, e.InstanceBufferOffset)
			cb.BindIndexBuffer(e.IndexBuffer, e.IndexBufferOffset)
			cb.DrawIndexed(e.IndexCount, instances)
		case metadata.InputStreamModeDispatch:
			cb.Dispatch(e.DispatchX, e.DispatchY, e.DispatchZ)
		case metadata.InputStreamModeTraceRays:
			cb.TraceRays(e.DispatchX, e.DispatchY, e.DispatchZ)
		}
	}
}
