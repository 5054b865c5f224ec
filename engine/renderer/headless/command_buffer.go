package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type Op int

const (
	OpBindPipeline Op = iota
	OpBeginPass
	OpEndPass
	OpBindBindingTable
	OpBindVertexBuffer
	OpBindIndexBuffer
	OpPushConstants
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpTraceRays
)

func (o Op) String() string {
	return [...]string{
		"bind-pipeline", "begin-pass", "end-pass", "bind-binding-table",
		"bind-vertex-buffer", "bind-index-buffer", "push-constants",
		"draw", "draw-indexed", "dispatch", "trace-rays",
	}[o]
}

// Command is one recorded call. Only the fields relevant to Op are set.
type Command struct {
	Op      Op
	Pass    string
	Handle  metadata.Handle
	Binding uint32
	Offset  uint64
	Data    []byte
	Counts  [3]uint32
}

func (c Command) String() string {
	return fmt.Sprintf("%s pass=%s handle=%d counts=%v", c.Op, c.Pass, c.Handle, c.Counts)
}

// CommandBuffer records calls instead of encoding them for a device.
type CommandBuffer struct {
	Name string

	mu       sync.Mutex
	state    renderer.CommandBufferState
	pass     string
	commands []Command
}

func NewCommandBuffer(name string) *CommandBuffer {
	return &CommandBuffer{
		Name:  name,
		state: renderer.COMMAND_BUFFER_STATE_READY,
	}
}

func (cb *CommandBuffer) State() renderer.CommandBufferState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CommandBuffer) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = renderer.COMMAND_BUFFER_STATE_READY
	cb.pass = ""
	cb.commands = cb.commands[:0]
}

func (cb *CommandBuffer) Begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != renderer.COMMAND_BUFFER_STATE_READY {
		return fmt.Errorf("command buffer '%s' cannot begin in state %s", cb.Name, cb.state)
	}
	cb.state = renderer.COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != renderer.COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("command buffer '%s' cannot end in state %s", cb.Name, cb.state)
	}
	cb.state = renderer.COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (cb *CommandBuffer) BindPipeline(pipeline metadata.Handle) {
	cb.record(renderer.COMMAND_BUFFER_STATE_RECORDING, Command{Op: OpBindPipeline, Handle: pipeline})
}

func (cb *CommandBuffer) BeginPass(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	core.Assert(cb.state == renderer.COMMAND_BUFFER_STATE_RECORDING, "BeginPass('%s') in state %s", name, cb.state)
	cb.state = renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS
	cb.pass = name
	cb.commands = append(cb.commands, Command{Op: OpBeginPass, Pass: name})
}

func (cb *CommandBuffer) EndPass() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	core.Assert(cb.state == renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, "EndPass in state %s", cb.state)
	cb.commands = append(cb.commands, Command{Op: OpEndPass, Pass: cb.pass})
	cb.state = renderer.COMMAND_BUFFER_STATE_RECORDING
	cb.pass = ""
}

func (cb *CommandBuffer) BindBindingTable(table metadata.Handle) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpBindBindingTable, Handle: table})
}

func (cb *CommandBuffer) BindVertexBuffer(binding uint32, buffer metadata.Handle, offset uint64) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpBindVertexBuffer, Binding: binding, Handle: buffer, Offset: offset})
}

func (cb *CommandBuffer) BindIndexBuffer(buffer metadata.Handle, offset uint64) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpBindIndexBuffer, Handle: buffer, Offset: offset})
}

func (cb *CommandBuffer) PushConstants(data []byte) {
	// Copied: the source buffer belongs to a stream and is rebuilt every frame.
	cp := make([]byte, len(data))
	copy(cp, data)
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpPushConstants, Data: cp})
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpDraw, Counts: [3]uint32{vertexCount, instanceCount}})
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount uint32) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpDrawIndexed, Counts: [3]uint32{indexCount, instanceCount}})
}

func (cb *CommandBuffer) Dispatch(x, y, z uint32) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpDispatch, Counts: [3]uint32{x, y, z}})
}

func (cb *CommandBuffer) TraceRays(width, height, depth uint32) {
	cb.record(renderer.COMMAND_BUFFER_STATE_IN_RENDER_PASS, Command{Op: OpTraceRays, Counts: [3]uint32{width, height, depth}})
}

// Commands returns a copy of everything recorded since the last Reset.
func (cb *CommandBuffer) Commands() []Command {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]Command, len(cb.commands))
	copy(out, cb.commands)
	return out
}

func (cb *CommandBuffer) record(required renderer.CommandBufferState, c Command) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	core.Assert(cb.state == required, "%s recorded in state %s, want %s", c.Op, cb.state, required)
	c.Pass = cb.pass
	cb.commands = append(cb.commands, c)
}

func (cb *CommandBuffer) setState(s renderer.CommandBufferState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = s
}
