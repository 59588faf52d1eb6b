package fluid

import (
	"errors"
	"fmt"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/kernels"
)

// ComputeStage is one compiled kernel bound to a fixed set of buffers.
//
// The binding set is built once at construction and reused by every
// Dispatch, so a stage always reads and writes the same physical buffers.
type ComputeStage struct {
	dev      gpucore.Device
	name     string
	kernel   *kernels.Kernel
	pipeline gpucore.PipelineID
	uniform  gpucore.BufferID
	group    gpucore.BindGroupID
	dispatch [3]uint32
	uniforms Uniforms
}

// StageOption configures a ComputeStage during creation.
type StageOption func(*stageOptions)

type stageOptions struct {
	name string
}

// WithStageName sets the stage name used in labels, logs and errors.
// It defaults to the kernel name.
func WithStageName(name string) StageOption {
	return func(o *stageOptions) {
		o.name = name
	}
}

// BuildComputeStage validates the resources against the kernel's slots
// and creates the pipeline, the uniform buffer and the binding set.
//
// Bindings are laid out as [uniform, inputs..., outputs...]. Each input
// and output resource expands to its buffers (a field to x then y). All
// validation happens before any device object is created.
func BuildComputeStage(dev gpucore.Device, cfg *Config, kernel *kernels.Kernel, u Uniforms, inputs, outputs []Resource, opts ...StageOption) (*ComputeStage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if kernel == nil {
		return nil, errors.New("fluid: nil kernel")
	}
	o := stageOptions{name: kernel.Name}
	for _, opt := range opts {
		opt(&o)
	}

	ep, ok := kernel.Compute()
	if !ok {
		return nil, &KernelCompileError{
			Kernel: kernel.Name,
			Stage:  "reflect",
			Err:    fmt.Errorf("no compute entry point %q", kernels.ComputeEntry),
		}
	}
	if err := checkLayout(kernel); err != nil {
		return nil, err
	}

	in := expand(inputs)
	out := expand(outputs)
	wantIn, wantOut := len(kernel.Inputs()), len(kernel.Outputs())
	if len(in) != wantIn || len(out) != wantOut {
		return nil, &BindingArityError{
			Stage:       o.name,
			WantInputs:  wantIn,
			GotInputs:   len(in),
			WantOutputs: wantOut,
			GotOutputs:  len(out),
		}
	}
	if err := checkAliasing(o.name, in, out); err != nil {
		return nil, err
	}

	s := &ComputeStage{
		dev:      dev,
		name:     o.name,
		kernel:   kernel,
		dispatch: cfg.dispatchFor(ep.Workgroup),
		uniforms: u,
	}
	if err := s.create(in, out); err != nil {
		s.Destroy()
		return nil, err
	}

	Logger().Debug("fluid: stage built",
		"stage", s.name,
		"kernel", kernel.Name,
		"inputs", len(in),
		"outputs", len(out),
		"dispatch", s.dispatch)
	return s, nil
}

func (s *ComputeStage) create(in, out []gpucore.BufferID) error {
	var err error
	s.pipeline, err = s.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:      s.name,
		Kernel:     s.kernel.Name,
		Source:     s.kernel.Source,
		SPIRV:      s.kernel.SPIRV,
		EntryPoint: kernels.ComputeEntry,
		Layout:     s.kernel.Slots,
		Workgroup:  mustCompute(s.kernel).Workgroup,
	})
	if err != nil {
		return fmt.Errorf("fluid: stage %s: create pipeline: %w", s.name, err)
	}

	s.uniform, err = s.dev.CreateBuffer(&gpucore.BufferDesc{
		Label:    s.name + ".params",
		Size:     UniformSize,
		Usage:    gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
		Contents: s.uniforms.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("fluid: stage %s: create uniform buffer: %w", s.name, err)
	}

	s.group, err = s.dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:    s.name,
		Pipeline: s.pipeline,
		Entries:  bindEntries(s.uniform, in, out),
	})
	if err != nil {
		return fmt.Errorf("fluid: stage %s: create bind group: %w", s.name, err)
	}
	return nil
}

func mustCompute(k *kernels.Kernel) kernels.EntryPoint {
	ep, _ := k.Compute()
	return ep
}

// checkLayout verifies the slot convention: one uniform at binding 0,
// then read-only inputs, then read-write outputs.
func checkLayout(k *kernels.Kernel) error {
	fail := func(format string, args ...any) error {
		return &KernelCompileError{Kernel: k.Name, Stage: "reflect", Err: fmt.Errorf(format, args...)}
	}
	if len(k.Slots) == 0 || k.Slots[0].Binding != 0 || k.Slots[0].Kind != gpucore.SlotUniform {
		return fail("binding 0 must be a uniform block")
	}
	seenOutput := false
	for i, slot := range k.Slots[1:] {
		if slot.Binding != uint32(i+1) {
			return fail("bindings must be contiguous, found %d at position %d", slot.Binding, i+1)
		}
		switch slot.Kind {
		case gpucore.SlotUniform:
			return fail("%s: only binding 0 may be a uniform", slot.Name)
		case gpucore.SlotReadOnlyStorage:
			if seenOutput {
				return fail("%s: input declared after an output", slot.Name)
			}
		case gpucore.SlotStorage:
			seenOutput = true
		}
	}
	return nil
}

func expand(resources []Resource) []gpucore.BufferID {
	var ids []gpucore.BufferID
	for _, r := range resources {
		ids = append(ids, r.Buffers()...)
	}
	return ids
}

func checkAliasing(stage string, in, out []gpucore.BufferID) error {
	seen := make(map[gpucore.BufferID]bool, len(out))
	for _, id := range out {
		if seen[id] {
			return fmt.Errorf("%w: stage %s writes buffer %d twice", ErrBufferAliasing, stage, id)
		}
		seen[id] = true
	}
	for _, id := range in {
		if seen[id] {
			return fmt.Errorf("%w: stage %s reads and writes buffer %d", ErrBufferAliasing, stage, id)
		}
	}
	return nil
}

func bindEntries(uniform gpucore.BufferID, in, out []gpucore.BufferID) []gpucore.BindGroupEntry {
	entries := make([]gpucore.BindGroupEntry, 0, 1+len(in)+len(out))
	entries = append(entries, gpucore.BindGroupEntry{Binding: 0, Buffer: uniform})
	for _, id := range append(append([]gpucore.BufferID(nil), in...), out...) {
		entries = append(entries, gpucore.BindGroupEntry{Binding: uint32(len(entries)), Buffer: id})
	}
	return entries
}

// Name returns the stage name.
func (s *ComputeStage) Name() string { return s.name }

// Kernel returns the kernel the stage was built from.
func (s *ComputeStage) Kernel() *kernels.Kernel { return s.kernel }

// Uniforms returns the current parameter block.
func (s *ComputeStage) Uniforms() Uniforms { return s.uniforms }

// DispatchDimensions returns the workgroup counts issued by Dispatch.
func (s *ComputeStage) DispatchDimensions() [3]uint32 { return s.dispatch }

// Dispatch records the stage into an open compute pass.
func (s *ComputeStage) Dispatch(pass gpucore.ComputePassEncoder) {
	pass.SetPipeline(s.pipeline)
	pass.SetBindGroup(0, s.group)
	pass.Dispatch(s.dispatch[0], s.dispatch[1], s.dispatch[2])
}

// Record records the stage in a compute pass of its own, so that its
// writes are visible to whatever is recorded next.
func (s *ComputeStage) Record(enc gpucore.CommandEncoder) {
	pass := enc.BeginComputePass(s.name)
	s.Dispatch(pass)
	pass.End()
}

// UpdateUniforms rewrites the parameter block.
func (s *ComputeStage) UpdateUniforms(u Uniforms) error {
	if s.uniform == gpucore.InvalidID {
		return ErrPipelineClosed
	}
	if err := s.dev.WriteBuffer(s.uniform, 0, u.Bytes()); err != nil {
		return fmt.Errorf("fluid: stage %s: update uniforms: %w", s.name, err)
	}
	s.uniforms = u
	return nil
}

// Destroy releases the binding set, the uniform buffer and the pipeline.
// The bound field buffers are not owned by the stage.
func (s *ComputeStage) Destroy() {
	if s.group != gpucore.InvalidID {
		s.dev.DestroyBindGroup(s.group)
		s.group = gpucore.InvalidID
	}
	if s.uniform != gpucore.InvalidID {
		s.dev.DestroyBuffer(s.uniform)
		s.uniform = gpucore.InvalidID
	}
	if s.pipeline != gpucore.InvalidID {
		s.dev.DestroyPipeline(s.pipeline)
		s.pipeline = gpucore.InvalidID
	}
}
