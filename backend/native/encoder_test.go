//go:build !nogpu

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	uni = gpucore.SlotUniform
	ro  = gpucore.SlotReadOnlyStorage
	rw  = gpucore.SlotStorage
)

const testWGSL = `@compute @workgroup_size(8, 8, 1) fn main() {}`

func slots(kinds ...gpucore.SlotKind) []gpucore.BindingSlot {
	out := make([]gpucore.BindingSlot, len(kinds))
	for i, k := range kinds {
		out[i] = gpucore.BindingSlot{Binding: uint32(i), Kind: k, Name: k.String()}
	}
	return out
}

func computeDesc(label string, kinds ...gpucore.SlotKind) *gpucore.ComputePipelineDesc {
	return &gpucore.ComputePipelineDesc{
		Label:      label,
		Kernel:     label,
		Source:     testWGSL,
		EntryPoint: "main",
		Layout:     slots(kinds...),
		Workgroup:  [3]uint32{8, 8, 1},
	}
}

func mustComputePipeline(t *testing.T, d *Device, label string, kinds ...gpucore.SlotKind) gpucore.PipelineID {
	t.Helper()
	id, err := d.CreateComputePipeline(computeDesc(label, kinds...))
	if err != nil {
		t.Fatalf("CreateComputePipeline(%q) failed: %v", label, err)
	}
	return id
}

func mustBindGroup(t *testing.T, d *Device, pipe gpucore.PipelineID, bufs ...gpucore.BufferID) gpucore.BindGroupID {
	t.Helper()
	entries := make([]gpucore.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		entries[i] = gpucore.BindGroupEntry{Binding: uint32(i), Buffer: b}
	}
	id, err := d.CreateBindGroup(&gpucore.BindGroupDesc{Label: "group", Pipeline: pipe, Entries: entries})
	if err != nil {
		t.Fatalf("CreateBindGroup failed: %v", err)
	}
	return id
}

func storageBuffer(t *testing.T, d *Device, label string) gpucore.BufferID {
	t.Helper()
	return mustBuffer(t, d, gpucore.BufferDesc{Label: label, Size: 64, Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc})
}

func uniformBuffer(t *testing.T, d *Device) gpucore.BufferID {
	t.Helper()
	return mustBuffer(t, d, gpucore.BufferDesc{Label: "params", Size: 16, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst})
}

func TestCreateComputePipelineErrors(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name   string
		modify func(*gpucore.ComputePipelineDesc)
	}{
		{"no entry point", func(p *gpucore.ComputePipelineDesc) { p.EntryPoint = "" }},
		{"no shader", func(p *gpucore.ComputePipelineDesc) { p.Source = "" }},
		{"zero workgroup", func(p *gpucore.ComputePipelineDesc) { p.Workgroup = [3]uint32{8, 0, 1} }},
		{"workgroup over limit", func(p *gpucore.ComputePipelineDesc) { p.Workgroup = [3]uint32{512, 1, 1} }},
		{"unknown slot kind", func(p *gpucore.ComputePipelineDesc) { p.Layout[0].Kind = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := computeDesc("bad", uni, rw)
			tt.modify(desc)
			_, err := d.CreateComputePipeline(desc)
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("CreateComputePipeline = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
	if s := d.Stats(); s.PipelinesLive != 0 {
		t.Errorf("PipelinesLive = %d, want 0", s.PipelinesLive)
	}
}

func TestCreateComputePipelineFromSPIRV(t *testing.T) {
	d := newTestDevice(t)
	desc := computeDesc("spirv", rw)
	desc.Source = ""
	desc.SPIRV = []uint32{0x07230203}
	if _, err := d.CreateComputePipeline(desc); err != nil {
		t.Errorf("CreateComputePipeline(SPIR-V) failed: %v", err)
	}
}

func TestCreateBindGroupValidation(t *testing.T) {
	d := newTestDevice(t)
	pipe := mustComputePipeline(t, d, "step", uni, ro, rw)
	params := uniformBuffer(t, d)
	a := storageBuffer(t, d, "a")
	b := storageBuffer(t, d, "b")

	entries := func(bufs ...gpucore.BufferID) []gpucore.BindGroupEntry {
		out := make([]gpucore.BindGroupEntry, len(bufs))
		for i, id := range bufs {
			out[i] = gpucore.BindGroupEntry{Binding: uint32(i), Buffer: id}
		}
		return out
	}

	tests := []struct {
		name string
		desc gpucore.BindGroupDesc
		want error
	}{
		{"valid", gpucore.BindGroupDesc{Pipeline: pipe, Entries: entries(params, a, b)}, nil},
		{"too few entries", gpucore.BindGroupDesc{Pipeline: pipe, Entries: entries(params, a)}, ErrInvalidDescriptor},
		{"duplicate binding", gpucore.BindGroupDesc{Pipeline: pipe, Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: params}, {Binding: 1, Buffer: a}, {Binding: 1, Buffer: b},
		}}, ErrInvalidDescriptor},
		{"binding not in layout", gpucore.BindGroupDesc{Pipeline: pipe, Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: params}, {Binding: 1, Buffer: a}, {Binding: 5, Buffer: b},
		}}, ErrInvalidDescriptor},
		{"storage buffer in uniform slot", gpucore.BindGroupDesc{Pipeline: pipe, Entries: entries(a, a, b)}, ErrInvalidDescriptor},
		{"uniform buffer in storage slot", gpucore.BindGroupDesc{Pipeline: pipe, Entries: entries(params, params, b)}, ErrInvalidDescriptor},
		{"unknown buffer", gpucore.BindGroupDesc{Pipeline: pipe, Entries: entries(params, a, 4242)}, gpucore.ErrUnknownResource},
		{"unknown pipeline", gpucore.BindGroupDesc{Pipeline: 4242, Entries: entries(params, a, b)}, gpucore.ErrUnknownResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := tt.desc
			desc.Label = tt.name
			_, err := d.CreateBindGroup(&desc)
			if tt.want == nil {
				if err != nil {
					t.Errorf("CreateBindGroup failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateBindGroup = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecordAndSubmit(t *testing.T) {
	d := newTestDevice(t)
	pipe := mustComputePipeline(t, d, "step", uni, rw)
	group := mustBindGroup(t, d, pipe, uniformBuffer(t, d), storageBuffer(t, d, "field"))

	enc, err := d.CreateCommandEncoder("step")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		pass := enc.BeginComputePass("stage")
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, group)
		pass.Dispatch(2, 2, 1)
		pass.End()
	}
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if cmd.Label() != "step" {
		t.Errorf("Label() = %q, want %q", cmd.Label(), "step")
	}
	if err := d.Submit(cmd); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := d.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	s := d.Stats()
	if s.Dispatches != 3 {
		t.Errorf("Dispatches = %d, want 3", s.Dispatches)
	}
	if s.Submits != 1 {
		t.Errorf("Submits = %d, want 1", s.Submits)
	}

	if err := d.Submit(cmd); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("second Submit = %v, want ErrInvalidDescriptor", err)
	}
	if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrEncoderFinished) {
		t.Errorf("second Finish = %v, want ErrEncoderFinished", err)
	}
	enc.Discard()

	if err := d.Submit(); err != nil {
		t.Errorf("empty Submit = %v, want nil", err)
	}
}

type foreignBuffer struct{}

func (foreignBuffer) Label() string { return "foreign" }

func TestSubmitRejectsForeignBuffers(t *testing.T) {
	d := newTestDevice(t)
	if err := d.Submit(foreignBuffer{}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Submit(foreign) = %v, want ErrInvalidDescriptor", err)
	}

	other := newTestDevice(t)
	enc, err := other.CreateCommandEncoder("other")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := d.Submit(cmd); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Submit(other device) = %v, want ErrInvalidDescriptor", err)
	}
}

func TestRecordingErrors(t *testing.T) {
	d := newTestDevice(t)
	params := uniformBuffer(t, d)
	field := storageBuffer(t, d, "field")
	pipeA := mustComputePipeline(t, d, "a", uni, rw)
	pipeB := mustComputePipeline(t, d, "b", uni, rw)
	groupB := mustBindGroup(t, d, pipeB, params, field)
	render := mustRenderPipeline(t, d, gputypes.TextureFormatRGBA8Unorm)

	tests := []struct {
		name   string
		record func(gpucore.CommandEncoder)
		want   error
	}{
		{"no pipeline", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.Dispatch(1, 1, 1)
			p.End()
		}, gpucore.ErrNoPipeline},
		{"zero workgroups", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(pipeB)
			p.SetBindGroup(0, groupB)
			p.Dispatch(0, 1, 1)
			p.End()
		}, gpucore.ErrWorkgroupCountZero},
		{"pass left open", func(e gpucore.CommandEncoder) {
			e.BeginComputePass("p")
		}, gpucore.ErrPassOpen},
		{"second pass while open", func(e gpucore.CommandEncoder) {
			e.BeginComputePass("p")
			e.BeginComputePass("q")
		}, gpucore.ErrPassOpen},
		{"command after end", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(pipeB)
			p.End()
			p.Dispatch(1, 1, 1)
		}, gpucore.ErrPassEnded},
		{"unknown target", func(e gpucore.CommandEncoder) {
			p := e.BeginRenderPass(&gpucore.RenderPassDesc{Label: "r", Target: 9999})
			p.End()
		}, gpucore.ErrUnknownResource},
		{"unknown pipeline", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(9999)
			p.End()
		}, gpucore.ErrUnknownResource},
		{"unknown bind group", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(pipeA)
			p.SetBindGroup(0, 9999)
			p.End()
		}, gpucore.ErrUnknownResource},
		{"no bind group", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(pipeA)
			p.Dispatch(1, 1, 1)
			p.End()
		}, ErrInvalidDescriptor},
		{"bind group of another pipeline", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(pipeA)
			p.SetBindGroup(0, groupB)
			p.Dispatch(1, 1, 1)
			p.End()
		}, ErrInvalidDescriptor},
		{"render pipeline in compute pass", func(e gpucore.CommandEncoder) {
			p := e.BeginComputePass("p")
			p.SetPipeline(render)
			p.End()
		}, ErrInvalidDescriptor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := d.CreateCommandEncoder(tt.name)
			if err != nil {
				t.Fatalf("CreateCommandEncoder failed: %v", err)
			}
			tt.record(enc)
			_, err = enc.Finish()
			if !errors.Is(err, tt.want) {
				t.Errorf("Finish = %v, want %v", err, tt.want)
			}
		})
	}
}

// spyDevice records the buffer barriers of every encoder it creates.
type spyDevice struct {
	hal.Device
	transitions [][]hal.BufferBarrier
}

func (s *spyDevice) CreateCommandEncoder(desc *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc, err := s.Device.CreateCommandEncoder(desc)
	if err != nil {
		return nil, err
	}
	return &spyEncoder{CommandEncoder: enc, spy: s}, nil
}

type spyEncoder struct {
	hal.CommandEncoder
	spy *spyDevice
}

func (e *spyEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.spy.transitions = append(e.spy.transitions, barriers)
	e.CommandEncoder.TransitionBuffers(barriers)
}

func TestStorageWritesAreFencedBetweenPasses(t *testing.T) {
	device, queue := openNoop(t)
	spy := &spyDevice{Device: device}
	d := NewFromHAL(spy, queue)
	t.Cleanup(d.Destroy)

	params := uniformBuffer(t, d)
	field := storageBuffer(t, d, "field")
	pipe := mustComputePipeline(t, d, "step", uni, rw)
	group := mustBindGroup(t, d, pipe, params, field)

	enc, err := d.CreateCommandEncoder("step")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}

	first := enc.BeginComputePass("write")
	first.SetPipeline(pipe)
	first.SetBindGroup(0, group)
	first.Dispatch(1, 1, 1)
	first.End()
	if len(spy.transitions) != 0 {
		t.Fatalf("barriers before the second pass = %d, want 0", len(spy.transitions))
	}

	// The second pass only binds; it writes nothing.
	second := enc.BeginComputePass("read")
	second.SetPipeline(pipe)
	second.End()
	if len(spy.transitions) != 1 {
		t.Fatalf("barrier batches = %d, want 1", len(spy.transitions))
	}
	batch := spy.transitions[0]
	if len(batch) != 1 {
		t.Fatalf("barriers in batch = %d, want 1", len(batch))
	}
	if batch[0].Buffer != d.buffers[field].raw {
		t.Errorf("barrier is on the wrong buffer")
	}
	if batch[0].Usage.OldUsage != gputypes.BufferUsageStorage || batch[0].Usage.NewUsage != gputypes.BufferUsageStorage {
		t.Errorf("barrier usage = %+v, want storage to storage", batch[0].Usage)
	}

	third := enc.BeginComputePass("idle")
	third.End()
	if len(spy.transitions) != 1 {
		t.Errorf("barrier batches after a pass without writes = %d, want 1", len(spy.transitions))
	}

	if _, err := enc.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestDiscardBeforeFinish(t *testing.T) {
	d := newTestDevice(t)
	enc, err := d.CreateCommandEncoder("discarded")
	if err != nil {
		t.Fatalf("CreateCommandEncoder failed: %v", err)
	}
	enc.BeginComputePass("open")
	enc.Discard()
	if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrEncoderFinished) {
		t.Errorf("Finish after Discard = %v, want ErrEncoderFinished", err)
	}
}
