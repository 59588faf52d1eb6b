package fluid

import (
	"math"

	"github.com/gogpu/gputypes"
)

// DisplayMode selects the quantity drawn by the presentation stage.
type DisplayMode uint32

const (
	// DisplayDensity draws the x channel of the density field.
	DisplayDensity DisplayMode = iota

	// DisplayTracer draws the y channel of the density field, a second
	// passive scalar carried by the same flow.
	DisplayTracer

	// DisplaySpeed draws the velocity magnitude.
	DisplaySpeed
)

// String returns the string representation of DisplayMode.
func (m DisplayMode) String() string {
	switch m {
	case DisplayDensity:
		return "density"
	case DisplayTracer:
		return "tracer"
	case DisplaySpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// ParseDisplayMode parses the names returned by DisplayMode.String.
func ParseDisplayMode(s string) (DisplayMode, error) {
	for m := DisplayDensity; m <= DisplaySpeed; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, &ConfigError{Field: "Display", Value: s, Reason: "want density, tracer or speed"}
}

// Config holds the grid geometry, the solver parameters and the
// presentation parameters of a simulation. A Config is read-only once
// built; every stage shares the same pointer.
type Config struct {
	// GridSize is the number of interior cells per axis. Buffers carry
	// one ghost cell on each side.
	GridSize uint32

	// Workgroup is the compute workgroup shape the kernels are built with.
	Workgroup [3]uint32

	TimeStep  float32
	Diffusion float32
	Viscosity float32

	// Iterations is the number of relaxation sweeps used by diffusion and
	// by the pressure solve.
	Iterations int

	// StepsPerFrame is the number of simulation steps recorded per frame.
	// Zero presents the current state without advancing it.
	StepsPerFrame int

	Background   gputypes.Color
	TargetFormat gputypes.TextureFormat
	Display      DisplayMode

	// Gain scales the displayed quantity before it is mapped to a color.
	Gain float32
}

// Option configures a Config during creation.
//
// Example:
//
//	cfg, err := fluid.NewConfig(128,
//	    fluid.WithTimeStep(0.05),
//	    fluid.WithViscosity(0),
//	)
type Option func(*Config)

// defaultConfig returns the defaults for a grid of n interior cells.
func defaultConfig(n uint32) Config {
	return Config{
		GridSize:      n,
		Workgroup:     [3]uint32{8, 8, 1},
		TimeStep:      0.1,
		Diffusion:     0.0001,
		Viscosity:     0.0001,
		Iterations:    20,
		StepsPerFrame: 1,
		Background:    gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		TargetFormat:  gputypes.TextureFormatBGRA8Unorm,
		Display:       DisplayDensity,
		Gain:          1,
	}
}

// NewConfig returns a validated configuration for a grid of gridSize
// interior cells per axis.
func NewConfig(gridSize uint32, opts ...Option) (*Config, error) {
	cfg := defaultConfig(gridSize)
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithWorkgroup sets the compute workgroup shape.
func WithWorkgroup(x, y, z uint32) Option {
	return func(c *Config) {
		c.Workgroup = [3]uint32{x, y, z}
	}
}

// WithTimeStep sets the simulation time step.
func WithTimeStep(dt float32) Option {
	return func(c *Config) {
		c.TimeStep = dt
	}
}

// WithDiffusion sets the density diffusion rate.
func WithDiffusion(rate float32) Option {
	return func(c *Config) {
		c.Diffusion = rate
	}
}

// WithViscosity sets the velocity diffusion rate.
func WithViscosity(rate float32) Option {
	return func(c *Config) {
		c.Viscosity = rate
	}
}

// WithIterations sets the relaxation sweep count.
func WithIterations(n int) Option {
	return func(c *Config) {
		c.Iterations = n
	}
}

// WithStepsPerFrame sets how many steps a frame records.
func WithStepsPerFrame(n int) Option {
	return func(c *Config) {
		c.StepsPerFrame = n
	}
}

// WithBackground sets the clear color of the presentation pass.
func WithBackground(col gputypes.Color) Option {
	return func(c *Config) {
		c.Background = col
	}
}

// WithTargetFormat sets the color format of presentation targets.
func WithTargetFormat(f gputypes.TextureFormat) Option {
	return func(c *Config) {
		c.TargetFormat = f
	}
}

// WithDisplay selects the displayed quantity.
func WithDisplay(m DisplayMode) Option {
	return func(c *Config) {
		c.Display = m
	}
}

// WithGain sets the display gain.
func WithGain(g float32) Option {
	return func(c *Config) {
		c.Gain = g
	}
}

// maxGridSize keeps (GridSize+2)^2 float32 elements addressable by a u32
// index in the kernels.
const maxGridSize = 1 << 15

// Validate reports the first invalid field as a *ConfigError.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Field: "Config", Value: nil, Reason: "nil configuration"}
	}
	switch {
	case c.GridSize == 0:
		return &ConfigError{Field: "GridSize", Value: c.GridSize, Reason: "must be positive"}
	case c.GridSize > maxGridSize:
		return &ConfigError{Field: "GridSize", Value: c.GridSize, Reason: "exceeds 32768"}
	case c.Workgroup[0] == 0 || c.Workgroup[1] == 0 || c.Workgroup[2] == 0:
		return &ConfigError{Field: "Workgroup", Value: c.Workgroup, Reason: "every dimension must be positive"}
	case !positive(c.TimeStep):
		return &ConfigError{Field: "TimeStep", Value: c.TimeStep, Reason: "must be positive"}
	case !nonNegative(c.Diffusion):
		return &ConfigError{Field: "Diffusion", Value: c.Diffusion, Reason: "must not be negative"}
	case !nonNegative(c.Viscosity):
		return &ConfigError{Field: "Viscosity", Value: c.Viscosity, Reason: "must not be negative"}
	case c.Iterations <= 0:
		return &ConfigError{Field: "Iterations", Value: c.Iterations, Reason: "must be positive"}
	case c.StepsPerFrame < 0:
		return &ConfigError{Field: "StepsPerFrame", Value: c.StepsPerFrame, Reason: "must not be negative"}
	case c.Display > DisplaySpeed:
		return &ConfigError{Field: "Display", Value: c.Display, Reason: "unknown display mode"}
	case !positive(c.Gain):
		return &ConfigError{Field: "Gain", Value: c.Gain, Reason: "must be positive"}
	case c.TargetFormat == gputypes.TextureFormatUndefined:
		return &ConfigError{Field: "TargetFormat", Value: c.TargetFormat, Reason: "must be set"}
	}
	return nil
}

func positive(v float32) bool {
	return v > 0 && !math.IsInf(float64(v), 1)
}

func nonNegative(v float32) bool {
	return v >= 0 && !math.IsInf(float64(v), 1)
}

// PaddedDimension returns the buffer dimension per axis, GridSize + 2.
func (c *Config) PaddedDimension() uint32 {
	return c.GridSize + 2
}

// BufferElementCount returns the number of float32 elements per channel.
func (c *Config) BufferElementCount() int {
	p := int(c.PaddedDimension())
	return p * p
}

// BufferSize returns the byte size of one channel buffer.
func (c *Config) BufferSize() uint64 {
	return uint64(c.BufferElementCount()) * 4
}

// DispatchDimensions returns the workgroup counts that cover the padded
// grid with the configured workgroup shape.
func (c *Config) DispatchDimensions() [3]uint32 {
	return c.dispatchFor(c.Workgroup)
}

func (c *Config) dispatchFor(wg [3]uint32) [3]uint32 {
	p := c.PaddedDimension()
	return [3]uint32{ceilDiv(p, wg[0]), ceilDiv(p, wg[1]), 1}
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// InstanceCount returns the number of quads drawn per frame, one per
// interior cell.
func (c *Config) InstanceCount() uint32 {
	return c.GridSize * c.GridSize
}
