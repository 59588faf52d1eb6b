//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// pipeline owns every HAL object built for one kernel.
type pipeline struct {
	label   string
	module  hal.ShaderModule
	bgl     hal.BindGroupLayout
	layout  hal.PipelineLayout
	compute hal.ComputePipeline
	render  hal.RenderPipeline
	slots   []gpucore.BindingSlot
}

func (p *pipeline) isRender() bool { return p.render != nil }

type bindGroup struct {
	label    string
	raw      hal.BindGroup
	pipeline *pipeline
	// written holds the buffers bound to read-write storage slots.
	written []*buffer
}

// CreateComputePipeline compiles a compute kernel. The bind group layout is
// derived from desc.Layout and owned by the pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.PipelineID, error) {
	if err := d.check("create compute pipeline"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.EntryPoint == "" {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q has no entry point", ErrInvalidDescriptor, desc.Label)
	}
	for i, n := range desc.Workgroup {
		if n == 0 || (d.maxWorkgroup[i] != 0 && n > d.maxWorkgroup[i]) {
			return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q workgroup size %v exceeds device limit %v",
				ErrInvalidDescriptor, desc.Label, desc.Workgroup, d.maxWorkgroup)
		}
	}

	p, err := d.buildLayout(desc.Label, desc.Source, desc.SPIRV, desc.Layout, gputypes.ShaderStageCompute)
	if err != nil {
		return gpucore.InvalidID, err
	}
	p.compute, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		d.releasePipeline(p)
		return gpucore.InvalidID, d.observe(fmt.Sprintf("create compute pipeline %q", desc.Label), err)
	}

	id := d.storePipeline(p)
	slogger().Debug("native: compute pipeline created",
		"label", desc.Label,
		"kernel", desc.Kernel,
		"bindings", len(desc.Layout),
		"workgroup", desc.Workgroup)
	return id, nil
}

// CreateRenderPipeline compiles a render kernel that draws a triangle list
// without vertex buffers into one color target of desc.Format.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.PipelineID, error) {
	if err := d.check("create render pipeline"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.VertexEntry == "" || desc.FragmentEntry == "" {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q needs vertex and fragment entry points", ErrInvalidDescriptor, desc.Label)
	}
	if !supportedTargetFormat(desc.Format) {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q target format %v", ErrUnsupportedFormat, desc.Label, desc.Format)
	}

	p, err := d.buildLayout(desc.Label, desc.Source, desc.SPIRV, desc.Layout,
		gputypes.ShaderStageVertex|gputypes.ShaderStageFragment)
	if err != nil {
		return gpucore.InvalidID, err
	}
	p.render, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.module,
			EntryPoint: desc.VertexEntry,
		},
		Fragment: &hal.FragmentState{
			Module:     p.module,
			EntryPoint: desc.FragmentEntry,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    desc.Format,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	})
	if err != nil {
		d.releasePipeline(p)
		return gpucore.InvalidID, d.observe(fmt.Sprintf("create render pipeline %q", desc.Label), err)
	}

	id := d.storePipeline(p)
	slogger().Debug("native: render pipeline created",
		"label", desc.Label,
		"kernel", desc.Kernel,
		"format", desc.Format)
	return id, nil
}

// buildLayout creates the shader module, bind group layout and pipeline
// layout shared by both pipeline kinds. On error nothing is leaked.
func (d *Device) buildLayout(label, source string, spirv []uint32, slots []gpucore.BindingSlot, visibility gputypes.ShaderStages) (*pipeline, error) {
	if source == "" && len(spirv) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q has neither WGSL nor SPIR-V", ErrInvalidDescriptor, label)
	}
	entries, err := layoutEntries(slots, visibility)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", label, err)
	}

	p := &pipeline{label: label, slots: append([]gpucore.BindingSlot(nil), slots...)}

	// WGSL is preferred; the HAL runs it through naga for the target API.
	src := hal.ShaderSource{WGSL: source}
	if source == "" {
		src = hal.ShaderSource{SPIRV: spirv}
	}
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: src,
	})
	if err != nil {
		return nil, d.observe(fmt.Sprintf("create shader module %q", label), err)
	}

	p.bgl, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		d.releasePipeline(p)
		return nil, d.observe(fmt.Sprintf("create bind group layout %q", label), err)
	}

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{p.bgl},
	})
	if err != nil {
		d.releasePipeline(p)
		return nil, d.observe(fmt.Sprintf("create pipeline layout %q", label), err)
	}
	return p, nil
}

func (d *Device) storePipeline(p *pipeline) gpucore.PipelineID {
	id := gpucore.PipelineID(d.newID())
	d.mu.Lock()
	d.pipelines[id] = p
	d.stats.PipelinesCreated++
	d.mu.Unlock()
	return id
}

// releasePipeline destroys whichever HAL objects of p exist, in reverse
// creation order.
func (d *Device) releasePipeline(p *pipeline) {
	if p.compute != nil {
		d.device.DestroyComputePipeline(p.compute)
	}
	if p.render != nil {
		d.device.DestroyRenderPipeline(p.render)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.bgl != nil {
		d.device.DestroyBindGroupLayout(p.bgl)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}

// DestroyPipeline releases a compute or render pipeline. Bind groups created
// for it stay valid as HAL objects but can no longer be bound.
func (d *Device) DestroyPipeline(id gpucore.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines[id]
	if ok {
		delete(d.pipelines, id)
	}
	d.mu.Unlock()

	if ok {
		d.releasePipeline(p)
	}
}

// CreateBindGroup binds whole buffers to every slot of the pipeline's
// layout. The entries must cover each slot exactly once.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if err := d.check("create bind group"); err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.RLock()
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		d.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("bind group %q: pipeline %d: %w", desc.Label, desc.Pipeline, gpucore.ErrUnknownResource)
	}
	entries, written, err := d.convertEntriesLocked(p, desc)
	d.mu.RUnlock()
	if err != nil {
		return gpucore.InvalidID, err
	}

	raw, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  p.bgl,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, d.observe(fmt.Sprintf("create bind group %q", desc.Label), err)
	}

	id := gpucore.BindGroupID(d.newID())
	d.mu.Lock()
	d.groups[id] = &bindGroup{label: desc.Label, raw: raw, pipeline: p, written: written}
	d.stats.BindGroupsCreated++
	d.mu.Unlock()
	return id, nil
}

// convertEntriesLocked validates desc against the pipeline's slots and
// converts it to HAL entries. Must be called with mu.RLock held.
func (d *Device) convertEntriesLocked(p *pipeline, desc *gpucore.BindGroupDesc) ([]gputypes.BindGroupEntry, []*buffer, error) {
	if len(desc.Entries) != len(p.slots) {
		return nil, nil, fmt.Errorf("%w: bind group %q has %d entries, pipeline %q declares %d slots",
			ErrInvalidDescriptor, desc.Label, len(desc.Entries), p.label, len(p.slots))
	}
	kinds := make(map[uint32]gpucore.SlotKind, len(p.slots))
	for _, s := range p.slots {
		kinds[s.Binding] = s.Kind
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	var written []*buffer
	seen := make(map[uint32]bool, len(desc.Entries))
	for _, e := range desc.Entries {
		kind, ok := kinds[e.Binding]
		if !ok || seen[e.Binding] {
			return nil, nil, fmt.Errorf("%w: bind group %q binding %d does not match pipeline %q",
				ErrInvalidDescriptor, desc.Label, e.Binding, p.label)
		}
		seen[e.Binding] = true

		b, ok := d.buffers[e.Buffer]
		if !ok {
			return nil, nil, fmt.Errorf("bind group %q binding %d: buffer %d: %w", desc.Label, e.Binding, e.Buffer, gpucore.ErrUnknownResource)
		}
		need := gpucore.BufferUsageStorage
		if kind == gpucore.SlotUniform {
			need = gpucore.BufferUsageUniform
		}
		if !b.usage.Has(need) {
			return nil, nil, fmt.Errorf("%w: buffer %q bound as %s lacks the matching usage", ErrInvalidDescriptor, b.label, kind)
		}
		if kind == gpucore.SlotStorage {
			written = append(written, b)
		}

		entries = append(entries, gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: b.raw.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		})
	}
	return entries, written, nil
}

// DestroyBindGroup releases a binding set.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	g, ok := d.groups[id]
	if ok {
		delete(d.groups, id)
	}
	d.mu.Unlock()

	if ok {
		d.device.DestroyBindGroup(g.raw)
	}
}

// layoutEntries converts reflected slots to HAL layout entries.
func layoutEntries(slots []gpucore.BindingSlot, visibility gputypes.ShaderStages) ([]gputypes.BindGroupLayoutEntry, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(slots))
	for i, s := range slots {
		var typ gputypes.BufferBindingType
		switch s.Kind {
		case gpucore.SlotUniform:
			typ = gputypes.BufferBindingTypeUniform
		case gpucore.SlotReadOnlyStorage:
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		case gpucore.SlotStorage:
			typ = gputypes.BufferBindingTypeStorage
		default:
			return nil, fmt.Errorf("%w: slot %q at binding %d has kind %d", ErrInvalidDescriptor, s.Name, s.Binding, s.Kind)
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    s.Binding,
			Visibility: visibility,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	return entries, nil
}
