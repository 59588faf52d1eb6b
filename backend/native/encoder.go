//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

var errDiscarded = errors.New("native: encoder discarded")

// commandBuffer is a finished HAL recording.
type commandBuffer struct {
	dev        *Device
	label      string
	raw        hal.CommandBuffer
	dispatches uint64
	draws      uint64
	submitted  bool
}

func (c *commandBuffer) Label() string { return c.label }

type commandEncoder struct {
	gpucore.Recorder
	dev   *Device
	label string
	raw   hal.CommandEncoder

	// Storage buffers written by the previous pass. The next pass starts
	// with a barrier on each of them.
	hazards []*buffer

	dispatches uint64
	draws      uint64
}

// CreateCommandEncoder opens a HAL command encoder and begins encoding.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	if err := d.check("create command encoder"); err != nil {
		return nil, err
	}
	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, d.observe("create command encoder", err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, d.observe("begin encoding", err)
	}
	return &commandEncoder{dev: d, label: label, raw: raw}, nil
}

// flushHazards orders the previous pass's storage writes before anything
// the next pass reads.
func (e *commandEncoder) flushHazards() {
	if len(e.hazards) == 0 {
		return
	}
	barriers := make([]hal.BufferBarrier, len(e.hazards))
	for i, b := range e.hazards {
		barriers[i] = hal.BufferBarrier{
			Buffer: b.raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageStorage,
				NewUsage: gputypes.BufferUsageStorage,
			},
		}
	}
	e.raw.TransitionBuffers(barriers)
	e.hazards = e.hazards[:0]
}

func (e *commandEncoder) BeginComputePass(label string) gpucore.ComputePassEncoder {
	p := &computePass{enc: e}
	p.PassTracker = gpucore.NewPassTracker(&e.Recorder)
	if !e.BeginPass() {
		return p
	}
	e.flushHazards()
	p.raw = e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	return p
}

func (e *commandEncoder) BeginRenderPass(desc *gpucore.RenderPassDesc) gpucore.RenderPassEncoder {
	p := &renderPass{enc: e}
	p.PassTracker = gpucore.NewPassTracker(&e.Recorder)
	if !e.BeginPass() {
		return p
	}
	e.dev.mu.RLock()
	t, ok := e.dev.targets[desc.Target]
	e.dev.mu.RUnlock()
	if !ok {
		e.Fail(fmt.Errorf("render pass %q: target %d: %w", desc.Label, desc.Target, gpucore.ErrUnknownResource))
		return p
	}
	e.flushHazards()
	p.target = t
	p.raw = e.raw.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: desc.Label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       t.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: desc.Clear,
		}},
	})
	return p
}

func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if e.Finished() {
		return nil, gpucore.ErrEncoderFinished
	}
	if err := e.Recorder.Finish(); err != nil {
		e.raw.DiscardEncoding()
		return nil, err
	}
	raw, err := e.raw.EndEncoding()
	if err != nil {
		return nil, e.dev.observe("end encoding", err)
	}
	return &commandBuffer{
		dev:        e.dev,
		label:      e.label,
		raw:        raw,
		dispatches: e.dispatches,
		draws:      e.draws,
	}, nil
}

func (e *commandEncoder) Discard() {
	if e.Finished() {
		return
	}
	e.Fail(errDiscarded)
	_ = e.Recorder.Finish()
	e.raw.DiscardEncoding()
}

// lookupPipeline resolves a pipeline bound on a pass. Errors are recorded
// on the encoder.
func (e *commandEncoder) lookupPipeline(id gpucore.PipelineID, render bool) *pipeline {
	e.dev.mu.RLock()
	p, ok := e.dev.pipelines[id]
	e.dev.mu.RUnlock()
	if !ok {
		e.Fail(fmt.Errorf("pipeline %d: %w", id, gpucore.ErrUnknownResource))
		return nil
	}
	if p.isRender() != render {
		e.Fail(fmt.Errorf("%w: pipeline %q bound to the wrong pass type", ErrInvalidDescriptor, p.label))
		return nil
	}
	return p
}

func (e *commandEncoder) lookupGroup(id gpucore.BindGroupID) *bindGroup {
	e.dev.mu.RLock()
	g, ok := e.dev.groups[id]
	e.dev.mu.RUnlock()
	if !ok {
		e.Fail(fmt.Errorf("bind group %d: %w", id, gpucore.ErrUnknownResource))
		return nil
	}
	return g
}

// bound checks that the bind group was created for the bound pipeline.
func (e *commandEncoder) bound(p *pipeline, g *bindGroup) bool {
	if p == nil {
		e.Fail(gpucore.ErrNoPipeline)
		return false
	}
	if g == nil {
		e.Fail(fmt.Errorf("%w: pipeline %q has no bind group", ErrInvalidDescriptor, p.label))
		return false
	}
	if g.pipeline != p {
		e.Fail(fmt.Errorf("%w: bind group %q was not created for pipeline %q", ErrInvalidDescriptor, g.label, p.label))
		return false
	}
	return true
}

type computePass struct {
	*gpucore.PassTracker
	enc      *commandEncoder
	raw      hal.ComputePassEncoder
	pipeline *pipeline
	group    *bindGroup
	written  []*buffer
}

func (p *computePass) SetPipeline(id gpucore.PipelineID) {
	if !p.PassTracker.SetPipeline(id) || p.raw == nil {
		return
	}
	if pl := p.enc.lookupPipeline(id, false); pl != nil {
		p.pipeline = pl
		p.raw.SetPipeline(pl.compute)
	}
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	if !p.PassTracker.SetBindGroup(index, id) || p.raw == nil {
		return
	}
	if g := p.enc.lookupGroup(id); g != nil {
		p.group = g
		p.raw.SetBindGroup(index, g.raw, nil)
	}
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if !p.Ready() || p.raw == nil {
		return
	}
	if x == 0 || y == 0 || z == 0 {
		p.enc.Fail(gpucore.ErrWorkgroupCountZero)
		return
	}
	if !p.enc.bound(p.pipeline, p.group) {
		return
	}
	p.raw.Dispatch(x, y, z)
	p.written = append(p.written, p.group.written...)
	p.enc.dispatches++
}

func (p *computePass) End() {
	if !p.PassTracker.End() || p.raw == nil {
		return
	}
	p.raw.End()
	p.enc.hazards = append(p.enc.hazards, p.written...)
}

type renderPass struct {
	*gpucore.PassTracker
	enc      *commandEncoder
	raw      hal.RenderPassEncoder
	target   *target
	pipeline *pipeline
	group    *bindGroup
}

func (p *renderPass) SetPipeline(id gpucore.PipelineID) {
	if !p.PassTracker.SetPipeline(id) || p.raw == nil {
		return
	}
	if pl := p.enc.lookupPipeline(id, true); pl != nil {
		p.pipeline = pl
		p.raw.SetPipeline(pl.render)
	}
}

func (p *renderPass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	if !p.PassTracker.SetBindGroup(index, id) || p.raw == nil {
		return
	}
	if g := p.enc.lookupGroup(id); g != nil {
		p.group = g
		p.raw.SetBindGroup(index, g.raw, nil)
	}
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !p.Ready() || p.raw == nil {
		return
	}
	if !p.enc.bound(p.pipeline, p.group) {
		return
	}
	p.raw.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	p.enc.draws++
}

func (p *renderPass) End() {
	if !p.PassTracker.End() || p.raw == nil {
		return
	}
	p.raw.End()
}

// Submit hands the command buffers to the queue in order. Each buffer can
// be submitted once. Submitted buffers are returned to the pool once the
// queue reports them complete.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) error {
	if err := d.check("submit"); err != nil {
		return err
	}
	if len(cmds) == 0 {
		return nil
	}
	bufs := make([]*commandBuffer, len(cmds))
	raws := make([]hal.CommandBuffer, len(cmds))
	for i, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return fmt.Errorf("%w: command buffer %d was not recorded on this device", ErrInvalidDescriptor, i)
		}
		if cb.submitted {
			return fmt.Errorf("%w: command buffer %q submitted twice", ErrInvalidDescriptor, cb.label)
		}
		bufs[i] = cb
		raws[i] = cb.raw
	}

	index, err := d.queue.Submit(raws)
	if err != nil {
		for _, cb := range bufs {
			cb.submitted = true
			d.device.FreeCommandBuffer(cb.raw)
		}
		return d.observe("submit", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range bufs {
		cb.submitted = true
		d.pending = append(d.pending, pendingBuffer{raw: cb.raw, index: index})
		d.stats.Dispatches += cb.dispatches
		d.stats.Draws += cb.draws
	}
	d.stats.Submits++
	d.reclaimLocked()
	return nil
}
