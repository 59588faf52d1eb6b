package fluid

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/kernels"
	"golang.org/x/sync/errgroup"
)

// InitialState holds optional host data for the fields of a pipeline. Nil
// slices are zero-filled; non-nil slices must have BufferElementCount
// elements.
type InitialState struct {
	VelocityX, VelocityY []float32
	DensityX, DensityY   []float32

	// Source fields are added, scaled by the time step, at the start of
	// every step.
	SourceVX, SourceVY []float32
	SourceDX, SourceDY []float32
}

// computeKernels are the kernels a simulation step dispatches.
var computeKernels = []string{
	kernels.AddSource,
	kernels.Diffuse,
	kernels.Advect,
	kernels.Divergence,
	kernels.Pressure,
	kernels.Gradient,
	kernels.Boundary,
}

// stepStages are the stages whose bindings depend on the parity of the
// double-buffered fields.
type stepStages struct {
	velocityAdd          *ComputeStage
	velocityDiffuseRed   *ComputeStage
	velocityDiffuseBlack *ComputeStage
	velocityAdvect       *ComputeStage
	divergence           *ComputeStage
	gradient             *ComputeStage

	densityAdd          *ComputeStage
	densityDiffuseRed   *ComputeStage
	densityDiffuseBlack *ComputeStage
	densityAdvect       *ComputeStage
}

// SimulationPipeline owns the fields of a simulation and records its steps.
//
// Every stage variant is built once at construction: one set per parity
// for the stages that touch double-buffered fields, and one boundary stage
// per physical field. Recording a step only selects the set that matches
// the current parity.
type SimulationPipeline struct {
	mu  sync.Mutex
	dev gpucore.Device
	cfg *Config

	velocitySource *Field2D
	densitySource  *Field2D
	buffers        StepBufferSet

	// pressure holds the pressure solution in x and the divergence in y.
	pressure *Field2D

	variants      [2]stepStages
	pressureRed   *ComputeStage
	pressureBlack *ComputeStage
	boundary      map[*Field2D]*ComputeStage
	stages        []*ComputeStage

	steps  uint64
	closed bool
}

// NewSimulationPipeline allocates the fields, compiles the kernels and
// builds every stage. On failure all resources created so far are
// released.
func NewSimulationPipeline(ctx context.Context, dev gpucore.Device, cfg *Config, state InitialState) (*SimulationPipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := state.validate(cfg); err != nil {
		return nil, err
	}

	ks, err := compileKernels(ctx, cfg, computeKernels)
	if err != nil {
		return nil, err
	}

	attachDevice(dev)
	p := &SimulationPipeline{
		dev:      dev,
		cfg:      cfg,
		boundary: make(map[*Field2D]*ComputeStage),
	}
	if err := p.allocate(state); err != nil {
		p.Destroy()
		return nil, err
	}
	if err := p.build(ks); err != nil {
		p.Destroy()
		return nil, err
	}

	Logger().Info("fluid: simulation pipeline built",
		"device", dev.Name(),
		"grid", cfg.GridSize,
		"stages", len(p.stages),
		"dispatch", cfg.DispatchDimensions())
	return p, nil
}

func (s *InitialState) validate(cfg *Config) error {
	n := cfg.BufferElementCount()
	checks := []struct {
		name   string
		values []float32
	}{
		{"VelocityX", s.VelocityX}, {"VelocityY", s.VelocityY},
		{"DensityX", s.DensityX}, {"DensityY", s.DensityY},
		{"SourceVX", s.SourceVX}, {"SourceVY", s.SourceVY},
		{"SourceDX", s.SourceDX}, {"SourceDY", s.SourceDY},
	}
	for _, c := range checks {
		if err := checkLen(c.name, c.values, n); err != nil {
			return err
		}
	}
	return nil
}

// compileKernels compiles the named kernels concurrently.
func compileKernels(ctx context.Context, cfg *Config, names []string) (map[string]*kernels.Kernel, error) {
	compiled := make([]*kernels.Kernel, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			k, err := kernels.Load(name, cfg.Workgroup)
			if err != nil {
				return err
			}
			compiled[i] = k
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*kernels.Kernel, len(names))
	for i, name := range names {
		out[name] = compiled[i]
	}
	return out, nil
}

func (p *SimulationPipeline) allocate(s InitialState) error {
	var err error
	if p.velocitySource, err = AllocateField(p.dev, p.cfg, "velocity.source", s.SourceVX, s.SourceVY); err != nil {
		return err
	}
	if p.densitySource, err = AllocateField(p.dev, p.cfg, "density.source", s.SourceDX, s.SourceDY); err != nil {
		return err
	}
	if p.buffers.Velocity, err = NewDoubleField(p.dev, p.cfg, "velocity", s.VelocityX, s.VelocityY); err != nil {
		return err
	}
	if p.buffers.Density, err = NewDoubleField(p.dev, p.cfg, "density", s.DensityX, s.DensityY); err != nil {
		return err
	}
	if p.pressure, err = AllocateField(p.dev, p.cfg, "pressure", nil, nil); err != nil {
		return err
	}
	return nil
}

// stage builds a stage and keeps it for Destroy.
func (p *SimulationPipeline) stage(name string, k *kernels.Kernel, u Uniforms, in, out []Resource) (*ComputeStage, error) {
	s, err := BuildComputeStage(p.dev, p.cfg, k, u, in, out, WithStageName(name))
	if err != nil {
		return nil, err
	}
	p.stages = append(p.stages, s)
	return s, nil
}

func (p *SimulationPipeline) build(ks map[string]*kernels.Kernel) error {
	cfg := p.cfg
	n2 := float32(cfg.GridSize) * float32(cfg.GridSize)
	base := baseUniforms(cfg)

	relax := func(alpha float32, color uint32) Uniforms {
		u := base
		u.Alpha = alpha
		u.Mode = color
		return u
	}
	viscous := cfg.TimeStep * cfg.Viscosity * n2
	diffusive := cfg.TimeStep * cfg.Diffusion * n2

	var err error
	for parity := range 2 {
		s := &p.variants[parity]
		vq, vc := p.buffers.Velocity.Field(parity), p.buffers.Velocity.Field(1-parity)
		dq, dc := p.buffers.Density.Field(parity), p.buffers.Density.Field(1-parity)
		label := func(name string) string { return fmt.Sprintf("%s[%d]", name, parity) }

		if s.velocityAdd, err = p.stage(label("velocity.addsource"), ks[kernels.AddSource], base,
			[]Resource{p.velocitySource, vq}, []Resource{vc}); err != nil {
			return err
		}
		if s.velocityDiffuseRed, err = p.stage(label("velocity.diffuse.red"), ks[kernels.Diffuse], relax(viscous, sweepRed),
			[]Resource{vc}, []Resource{vq}); err != nil {
			return err
		}
		if s.velocityDiffuseBlack, err = p.stage(label("velocity.diffuse.black"), ks[kernels.Diffuse], relax(viscous, sweepBlack),
			[]Resource{vc}, []Resource{vq}); err != nil {
			return err
		}
		if s.velocityAdvect, err = p.stage(label("velocity.advect"), ks[kernels.Advect], base,
			[]Resource{vq, vq}, []Resource{vc}); err != nil {
			return err
		}
		if s.divergence, err = p.stage(label("project.divergence"), ks[kernels.Divergence], base,
			[]Resource{vc}, []Resource{p.pressure}); err != nil {
			return err
		}
		if s.gradient, err = p.stage(label("project.gradient"), ks[kernels.Gradient], base,
			[]Resource{p.pressure}, []Resource{vc}); err != nil {
			return err
		}

		if s.densityAdd, err = p.stage(label("density.addsource"), ks[kernels.AddSource], base,
			[]Resource{p.densitySource, dq}, []Resource{dc}); err != nil {
			return err
		}
		if s.densityDiffuseRed, err = p.stage(label("density.diffuse.red"), ks[kernels.Diffuse], relax(diffusive, sweepRed),
			[]Resource{dc}, []Resource{dq}); err != nil {
			return err
		}
		if s.densityDiffuseBlack, err = p.stage(label("density.diffuse.black"), ks[kernels.Diffuse], relax(diffusive, sweepBlack),
			[]Resource{dc}, []Resource{dq}); err != nil {
			return err
		}
		if s.densityAdvect, err = p.stage(label("density.advect"), ks[kernels.Advect], base,
			[]Resource{dq, vc}, []Resource{dc}); err != nil {
			return err
		}
	}

	if p.pressureRed, err = p.stage("project.pressure.red", ks[kernels.Pressure], relax(0, sweepRed),
		nil, []Resource{p.pressure}); err != nil {
		return err
	}
	if p.pressureBlack, err = p.stage("project.pressure.black", ks[kernels.Pressure], relax(0, sweepBlack),
		nil, []Resource{p.pressure}); err != nil {
		return err
	}

	walls := []struct {
		field *Field2D
		mode  uint32
	}{
		{p.buffers.Velocity.Field(0), wallMode(wallVertical, wallHorizontal)},
		{p.buffers.Velocity.Field(1), wallMode(wallVertical, wallHorizontal)},
		{p.buffers.Density.Field(0), wallMode(wallCopy, wallCopy)},
		{p.buffers.Density.Field(1), wallMode(wallCopy, wallCopy)},
		{p.pressure, wallMode(wallCopy, wallCopy)},
	}
	for _, w := range walls {
		u := base
		u.Mode = w.mode
		b, err := p.stage(w.field.Label()+".boundary", ks[kernels.Boundary], u, nil, []Resource{w.field})
		if err != nil {
			return err
		}
		p.boundary[w.field] = b
	}
	return nil
}

// Step records one simulation step into enc and swaps the buffer roles.
//
// If enc has recorded an error, Step returns it and leaves the parity and
// step count unchanged. A step that records cleanly but whose encoder is
// later discarded is rewound by FrameOrchestrator.
func (p *SimulationPipeline) Step(enc gpucore.CommandEncoder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}

	s := &p.variants[p.buffers.Parity()]
	vq, vc := p.buffers.Velocity.Previous(), p.buffers.Velocity.Current()
	dq, dc := p.buffers.Density.Previous(), p.buffers.Density.Current()

	// Velocity: source, diffuse into the previous buffer, advect back into
	// the current one, then make it divergence free.
	s.velocityAdd.Record(enc)
	p.relax(enc, s.velocityDiffuseRed, s.velocityDiffuseBlack, p.boundary[vq])
	s.velocityAdvect.Record(enc)
	p.boundary[vc].Record(enc)
	s.divergence.Record(enc)
	p.boundary[p.pressure].Record(enc)
	p.relax(enc, p.pressureRed, p.pressureBlack, p.boundary[p.pressure])
	s.gradient.Record(enc)
	p.boundary[vc].Record(enc)

	// Density: carried by the velocity computed above.
	s.densityAdd.Record(enc)
	p.relax(enc, s.densityDiffuseRed, s.densityDiffuseBlack, p.boundary[dq])
	s.densityAdvect.Record(enc)
	p.boundary[dc].Record(enc)

	if err := enc.Err(); err != nil {
		return fmt.Errorf("fluid: step %d: %w", p.steps+1, err)
	}
	p.buffers.Swap()
	p.steps++
	return nil
}

// relax records Iterations red-black sweeps, refreshing the ghost ring
// after each one.
func (p *SimulationPipeline) relax(enc gpucore.CommandEncoder, red, black, boundary *ComputeStage) {
	for range p.cfg.Iterations {
		red.Record(enc)
		black.Record(enc)
		boundary.Record(enc)
	}
}

// stepMark captures the step count and parity before recording.
type stepMark struct {
	steps  uint64
	parity int
}

func (p *SimulationPipeline) mark() stepMark {
	p.mu.Lock()
	defer p.mu.Unlock()
	return stepMark{steps: p.steps, parity: p.buffers.Parity()}
}

// restore rewinds the bookkeeping of steps whose commands were discarded.
func (p *SimulationPipeline) restore(m stepMark) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffers.Parity() != m.parity {
		p.buffers.Swap()
	}
	p.steps = m.steps
}

// Steps returns the number of recorded steps.
func (p *SimulationPipeline) Steps() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps
}

// Parity returns the shared parity of the velocity and density pairs.
func (p *SimulationPipeline) Parity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers.Parity()
}

// Config returns the configuration the pipeline was built with.
func (p *SimulationPipeline) Config() *Config { return p.cfg }

// Device returns the device the pipeline records for.
func (p *SimulationPipeline) Device() gpucore.Device { return p.dev }

// Velocity returns the double-buffered velocity field.
func (p *SimulationPipeline) Velocity() *DoubleField { return p.buffers.Velocity }

// Density returns the double-buffered density field.
func (p *SimulationPipeline) Density() *DoubleField { return p.buffers.Density }

// Pressure returns the projection scratch field: pressure in x and
// divergence in y.
func (p *SimulationPipeline) Pressure() *Field2D { return p.pressure }

// Sources returns the velocity and density source fields.
func (p *SimulationPipeline) Sources() (velocity, density *Field2D) {
	return p.velocitySource, p.densitySource
}

// SetSources replaces the source fields. Nil slices leave their channel
// unchanged.
func (p *SimulationPipeline) SetSources(vx, vy, dx, dy []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	updates := []struct {
		field  *Field2D
		ch     int
		values []float32
	}{
		{p.velocitySource, 0, vx},
		{p.velocitySource, 1, vy},
		{p.densitySource, 0, dx},
		{p.densitySource, 1, dy},
	}
	for _, u := range updates {
		if u.values == nil {
			continue
		}
		if err := u.field.WriteChannel(u.ch, u.values); err != nil {
			return err
		}
	}
	return nil
}

// Stages returns every stage in build order.
func (p *SimulationPipeline) Stages() []*ComputeStage {
	return append([]*ComputeStage(nil), p.stages...)
}

// Destroy releases every stage and field. Later calls to Step return
// ErrPipelineClosed.
func (p *SimulationPipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	for _, s := range p.stages {
		s.Destroy()
	}
	p.stages = nil
	for _, f := range []*Field2D{p.velocitySource, p.densitySource, p.pressure} {
		if f != nil {
			f.Destroy()
		}
	}
	for _, d := range []*DoubleField{p.buffers.Velocity, p.buffers.Density} {
		if d != nil {
			d.Destroy()
		}
	}
	detachDevice(p.dev)
}
