package fluid

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/kernels"
)

// PresentationStage draws the latest simulation state as one instanced
// quad per interior cell.
//
// It keeps one binding set per parity. Each reads the physical fields
// that hold the latest state at that parity, so Draw always shows the
// result of the last recorded step.
type PresentationStage struct {
	mu       sync.Mutex
	dev      gpucore.Device
	cfg      *Config
	sim      *SimulationPipeline
	kernel   *kernels.Kernel
	pipeline gpucore.PipelineID
	uniform  gpucore.BufferID
	lut      gpucore.BufferID
	groups   [2]gpucore.BindGroupID
	cmap     Colormap
	display  DisplayMode
	gain     float32
	closed   bool
}

// buffer binds one raw buffer as a resource.
type buffer gpucore.BufferID

func (b buffer) Buffers() []gpucore.BufferID { return []gpucore.BufferID{gpucore.BufferID(b)} }

// NewPresentationStage compiles the display kernel and builds its render
// pipeline and binding sets for sim.
func NewPresentationStage(ctx context.Context, dev gpucore.Device, cfg *Config, sim *SimulationPipeline, cmap Colormap) (*PresentationStage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sim == nil {
		return nil, fmt.Errorf("fluid: presentation: nil simulation pipeline")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := kernels.Load(kernels.Render, cfg.Workgroup)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{kernels.VertexEntry, kernels.FragmentEntry} {
		if _, ok := k.EntryPoint(name); !ok {
			return nil, &KernelCompileError{Kernel: k.Name, Stage: "reflect", Err: fmt.Errorf("missing entry point %q", name)}
		}
	}
	if len(k.Uniforms()) != 1 || k.Slots[0].Kind != gpucore.SlotUniform || len(k.Outputs()) != 0 {
		return nil, &KernelCompileError{Kernel: k.Name, Stage: "reflect", Err: fmt.Errorf("want one uniform at binding 0 and read-only inputs")}
	}

	ps := &PresentationStage{
		dev:     dev,
		cfg:     cfg,
		sim:     sim,
		kernel:  k,
		cmap:    cmap,
		display: cfg.Display,
		gain:    cfg.Gain,
	}
	inputs := func(parity int) []gpucore.BufferID {
		return expand([]Resource{
			sim.Density().Field(parity),
			sim.Velocity().Field(parity),
			buffer(gpucore.InvalidID), // colormap, filled in by create
		})
	}
	if got, want := len(inputs(0)), len(k.Inputs()); got != want {
		return nil, &BindingArityError{Stage: "present", WantInputs: want, GotInputs: got}
	}

	attachDevice(dev)
	if err := ps.create(inputs); err != nil {
		ps.Destroy()
		return nil, err
	}

	Logger().Info("fluid: presentation stage built",
		"format", cfg.TargetFormat,
		"instances", cfg.InstanceCount(),
		"display", ps.display)
	return ps, nil
}

func (ps *PresentationStage) create(inputs func(int) []gpucore.BufferID) error {
	var err error
	ps.pipeline, err = ps.dev.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:         "present",
		Kernel:        ps.kernel.Name,
		Source:        ps.kernel.Source,
		SPIRV:         ps.kernel.SPIRV,
		VertexEntry:   kernels.VertexEntry,
		FragmentEntry: kernels.FragmentEntry,
		Layout:        ps.kernel.Slots,
		Format:        ps.cfg.TargetFormat,
	})
	if err != nil {
		return fmt.Errorf("fluid: presentation: create pipeline: %w", err)
	}

	ps.uniform, err = ps.dev.CreateBuffer(&gpucore.BufferDesc{
		Label:    "present.params",
		Size:     UniformSize,
		Usage:    gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
		Contents: displayUniforms(ps.cfg, ps.display, ps.gain),
	})
	if err != nil {
		return fmt.Errorf("fluid: presentation: create uniform buffer: %w", err)
	}

	ps.lut, err = ps.dev.CreateBuffer(&gpucore.BufferDesc{
		Label:    "present.colormap",
		Size:     ColormapSize * 4,
		Usage:    gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst,
		Contents: ps.cmap.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("fluid: presentation: create colormap buffer: %w", err)
	}

	for parity := range ps.groups {
		in := inputs(parity)
		in[len(in)-1] = ps.lut
		ps.groups[parity], err = ps.dev.CreateBindGroup(&gpucore.BindGroupDesc{
			Label:    fmt.Sprintf("present[%d]", parity),
			Pipeline: ps.pipeline,
			Entries:  bindEntries(ps.uniform, in, nil),
		})
		if err != nil {
			return fmt.Errorf("fluid: presentation: create bind group: %w", err)
		}
	}
	return nil
}

// displayUniforms encodes struct Display { grid_size, gain, mode, _pad }.
func displayUniforms(cfg *Config, mode DisplayMode, gain float32) []byte {
	b := make([]byte, UniformSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(cfg.GridSize)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(gain))
	binary.LittleEndian.PutUint32(b[8:], uint32(mode))
	return b
}

// Draw records one render pass that clears target to the background and
// draws every interior cell.
func (ps *PresentationStage) Draw(enc gpucore.CommandEncoder, target gpucore.TextureID) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return ErrPipelineClosed
	}
	pass := enc.BeginRenderPass(&gpucore.RenderPassDesc{
		Label:  "present",
		Target: target,
		Clear:  ps.cfg.Background,
	})
	pass.SetPipeline(ps.pipeline)
	pass.SetBindGroup(0, ps.groups[ps.sim.Parity()])
	pass.Draw(6, ps.cfg.InstanceCount(), 0, 0)
	pass.End()
	if err := enc.Err(); err != nil {
		return fmt.Errorf("fluid: present: %w", err)
	}
	return nil
}

// CellForInstance returns the interior cell drawn by instance i.
func (ps *PresentationStage) CellForInstance(i uint32) (row, col uint32) {
	return CellForInstance(ps.cfg.GridSize, i)
}

// CellForInstance returns the interior cell drawn by instance i of a grid
// with n interior cells per axis. Its padded index is (row+1)*(n+2)+col+1.
func CellForInstance(n, i uint32) (row, col uint32) {
	return i / n, i % n
}

// Display returns the displayed quantity and gain.
func (ps *PresentationStage) Display() (DisplayMode, float32) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.display, ps.gain
}

// UpdateDisplay changes the displayed quantity and gain.
func (ps *PresentationStage) UpdateDisplay(mode DisplayMode, gain float32) error {
	if mode > DisplaySpeed {
		return &ConfigError{Field: "Display", Value: mode, Reason: "unknown display mode"}
	}
	if !positive(gain) {
		return &ConfigError{Field: "Gain", Value: gain, Reason: "must be positive"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return ErrPipelineClosed
	}
	if err := ps.dev.WriteBuffer(ps.uniform, 0, displayUniforms(ps.cfg, mode, gain)); err != nil {
		return fmt.Errorf("fluid: presentation: update display: %w", err)
	}
	ps.display, ps.gain = mode, gain
	return nil
}

// Destroy releases the binding sets, buffers and pipeline.
func (ps *PresentationStage) Destroy() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.closed = true
	for i, g := range ps.groups {
		if g != gpucore.InvalidID {
			ps.dev.DestroyBindGroup(g)
			ps.groups[i] = gpucore.InvalidID
		}
	}
	for _, b := range []gpucore.BufferID{ps.uniform, ps.lut} {
		if b != gpucore.InvalidID {
			ps.dev.DestroyBuffer(b)
		}
	}
	if ps.pipeline != gpucore.InvalidID {
		ps.dev.DestroyPipeline(ps.pipeline)
	}
	detachDevice(ps.dev)
}
