package cpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
)

type commandKind int

const (
	cmdDispatch commandKind = iota
	cmdClear
	cmdDraw
)

// command is one recorded operation with its resources resolved.
type command struct {
	kind     commandKind
	pipeline *pipeline
	group    *bindGroup
	target   *target
	clear    gputypes.Color
	counts   [3]uint32
	draw     DrawCall
}

// commandBuffer is a finished recording.
type commandBuffer struct {
	dev       *Device
	label     string
	commands  []command
	submitted bool
}

func (c *commandBuffer) Label() string { return c.label }

type commandEncoder struct {
	gpucore.Recorder
	dev      *Device
	label    string
	commands []command
}

func (e *commandEncoder) BeginComputePass(label string) gpucore.ComputePassEncoder {
	p := &computePass{enc: e}
	p.PassTracker = gpucore.NewPassTracker(&e.Recorder)
	e.BeginPass()
	return p
}

func (e *commandEncoder) BeginRenderPass(desc *gpucore.RenderPassDesc) gpucore.RenderPassEncoder {
	p := &renderPass{enc: e}
	p.PassTracker = gpucore.NewPassTracker(&e.Recorder)
	if !e.BeginPass() {
		return p
	}
	e.dev.mu.Lock()
	t, ok := e.dev.targets[desc.Target]
	e.dev.mu.Unlock()
	if !ok {
		e.Fail(fmt.Errorf("render pass %q: target %d: %w", desc.Label, desc.Target, gpucore.ErrUnknownResource))
		return p
	}
	p.target = t
	e.commands = append(e.commands, command{kind: cmdClear, target: t, clear: desc.Clear})
	return p
}

func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.Recorder.Finish(); err != nil {
		return nil, err
	}
	return &commandBuffer{dev: e.dev, label: e.label, commands: e.commands}, nil
}

func (e *commandEncoder) Discard() {
	e.commands = nil
	if !e.Finished() {
		e.Fail(errors.New("cpu: encoder discarded"))
		_ = e.Recorder.Finish()
	}
}

// resolve looks up a pipeline and bind group pair for a dispatch or draw.
func (e *commandEncoder) resolve(pid gpucore.PipelineID, gid gpucore.BindGroupID, render bool) (*pipeline, *bindGroup, error) {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	p, ok := e.dev.pipelines[pid]
	if !ok {
		return nil, nil, fmt.Errorf("pipeline %d: %w", pid, gpucore.ErrUnknownResource)
	}
	if p.render != render {
		return nil, nil, fmt.Errorf("%w: pipeline %q bound to the wrong pass type", ErrInvalidDescriptor, p.label)
	}
	g, ok := e.dev.groups[gid]
	if !ok {
		return nil, nil, fmt.Errorf("bind group %d: %w", gid, gpucore.ErrUnknownResource)
	}
	if g.pipeline != p {
		return nil, nil, fmt.Errorf("%w: bind group %q was not created for pipeline %q", ErrInvalidDescriptor, g.label, p.label)
	}
	return p, g, nil
}

type computePass struct {
	*gpucore.PassTracker
	enc *commandEncoder
}

func (p *computePass) SetPipeline(id gpucore.PipelineID) { p.PassTracker.SetPipeline(id) }

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	p.PassTracker.SetBindGroup(index, id)
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if !p.Ready() {
		return
	}
	if x == 0 || y == 0 || z == 0 {
		p.enc.Fail(gpucore.ErrWorkgroupCountZero)
		return
	}
	pl, g, err := p.enc.resolve(p.Pipeline(), p.BindGroup(), false)
	if err != nil {
		p.enc.Fail(err)
		return
	}
	p.enc.commands = append(p.enc.commands, command{kind: cmdDispatch, pipeline: pl, group: g, counts: [3]uint32{x, y, z}})
}

func (p *computePass) End() { p.PassTracker.End() }

type renderPass struct {
	*gpucore.PassTracker
	enc    *commandEncoder
	target *target
}

func (p *renderPass) SetPipeline(id gpucore.PipelineID) { p.PassTracker.SetPipeline(id) }

func (p *renderPass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	p.PassTracker.SetBindGroup(index, id)
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !p.Ready() || p.target == nil {
		return
	}
	pl, g, err := p.enc.resolve(p.Pipeline(), p.BindGroup(), true)
	if err != nil {
		p.enc.Fail(err)
		return
	}
	if pl.format != p.target.format {
		p.enc.Fail(fmt.Errorf("%w: pipeline %q format %v does not match target %q format %v",
			ErrInvalidDescriptor, pl.label, pl.format, p.target.label, p.target.format))
		return
	}
	p.enc.commands = append(p.enc.commands, command{
		kind:     cmdDraw,
		pipeline: pl,
		group:    g,
		target:   p.target,
		draw:     DrawCall{vertexCount, instanceCount, firstVertex, firstInstance},
	})
}

func (p *renderPass) End() { p.PassTracker.End() }
