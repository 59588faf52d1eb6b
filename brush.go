package fluid

import (
	"errors"
	"math"
	"sync"

	"github.com/gogpu/gpucontext"
)

// Brush turns pointer input into source fields. Pressing adds density at
// the pointer; dragging also adds velocity along the motion.
//
// Splats accumulate on the host until Flush uploads them. A flush that
// follows a non-empty one clears the sources again, so a splat acts for
// the frames between two flushes only.
type Brush struct {
	mu      sync.Mutex
	cfg     *Config
	width   float64
	height  float64
	radius  float64
	amount  float64
	force   float64
	vx, vy  []float32
	dx, dy  []float32
	dirty   bool
	active  bool
	pointer map[int]brushPointer
}

type brushPointer struct {
	x, y float64
}

// BrushOption configures a Brush.
type BrushOption func(*Brush)

// WithBrushRadius sets the splat radius in cells.
func WithBrushRadius(cells float64) BrushOption {
	return func(b *Brush) {
		b.radius = cells
	}
}

// WithBrushAmount sets the density added at the splat center per event.
func WithBrushAmount(amount float64) BrushOption {
	return func(b *Brush) {
		b.amount = amount
	}
}

// WithBrushForce sets the velocity added per cell of pointer motion.
func WithBrushForce(force float64) BrushOption {
	return func(b *Brush) {
		b.force = force
	}
}

// NewBrush returns a brush for a viewport of width x height logical
// pixels that covers the interior of the grid.
func NewBrush(cfg *Config, width, height float64, opts ...BrushOption) (*Brush, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !(width > 0) || !(height > 0) {
		return nil, &ConfigError{Field: "Viewport", Value: [2]float64{width, height}, Reason: "must be positive"}
	}
	n := cfg.BufferElementCount()
	b := &Brush{
		cfg:     cfg,
		width:   width,
		height:  height,
		radius:  math.Max(1, float64(cfg.GridSize)/32),
		amount:  100,
		force:   5,
		vx:      make([]float32, n),
		vy:      make([]float32, n),
		dx:      make([]float32, n),
		dy:      make([]float32, n),
		pointer: make(map[int]brushPointer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if !(b.radius > 0) || !finite(b.radius) {
		return nil, &ConfigError{Field: "BrushRadius", Value: b.radius, Reason: "must be positive and finite"}
	}
	if !finite(b.amount) || !finite(b.force) {
		return nil, &ConfigError{Field: "BrushAmount", Value: [2]float64{b.amount, b.force}, Reason: "amount and force must be finite"}
	}
	return b, nil
}

// Attach routes the pointer events of src to the brush.
func (b *Brush) Attach(src gpucontext.PointerEventSource) {
	src.OnPointer(b.HandlePointer)
}

// HandlePointer applies one pointer event.
func (b *Brush) HandlePointer(ev gpucontext.PointerEvent) {
	switch ev.Type {
	case gpucontext.PointerDown:
		b.mu.Lock()
		b.pointer[ev.PointerID] = brushPointer{x: ev.X, y: ev.Y}
		b.mu.Unlock()
		b.Splat(ev.X, ev.Y, 0, 0, b.amount)
	case gpucontext.PointerMove:
		b.mu.Lock()
		last, down := b.pointer[ev.PointerID]
		if down {
			b.pointer[ev.PointerID] = brushPointer{x: ev.X, y: ev.Y}
		}
		b.mu.Unlock()
		if down {
			b.Splat(ev.X, ev.Y, ev.X-last.x, ev.Y-last.y, b.amount)
		}
	case gpucontext.PointerUp, gpucontext.PointerCancel, gpucontext.PointerLeave:
		b.mu.Lock()
		delete(b.pointer, ev.PointerID)
		b.mu.Unlock()
	}
}

// MaxSplatSource bounds the magnitude of every accumulated source value,
// and of the amount of a single splat.
const MaxSplatSource = 1e4

// Splat adds density amount at viewport position (x, y) and velocity
// along the viewport motion (dx, dy), both with a Gaussian falloff.
// Positions outside the viewport and non-finite values are ignored. The
// motion is clamped to the viewport size and the amount to
// MaxSplatSource.
func (b *Brush) Splat(x, y, dx, dy, amount float64) {
	if !(x >= 0 && x < b.width && y >= 0 && y < b.height) {
		return
	}
	if !finite(dx) || !finite(dy) || !finite(amount) {
		return
	}
	dx = clamp(dx, -b.width, b.width)
	dy = clamp(dy, -b.height, b.height)
	amount = clamp(amount, -MaxSplatSource, MaxSplatSource)

	n := float64(b.cfg.GridSize)
	p := int(b.cfg.PaddedDimension())

	// Cell space: interior cell (row, col) covers [col, col+1) x [row, row+1).
	cx, cy := x/b.width*n, y/b.height*n
	fx, fy := dx/b.width*n*b.force, dy/b.height*n*b.force

	r := b.radius
	minCol, maxCol := clampCell(cx-3*r, n), clampCell(cx+3*r, n)
	minRow, maxRow := clampCell(cy-3*r, n), clampCell(cy+3*r, n)

	b.mu.Lock()
	defer b.mu.Unlock()
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			ox := float64(col) + 0.5 - cx
			oy := float64(row) + 0.5 - cy
			w := math.Exp(-(ox*ox + oy*oy) / (2 * r * r))
			k := (row+1)*p + col + 1
			b.dx[k] = accumulate(b.dx[k], amount*w)
			b.vx[k] = accumulate(b.vx[k], fx*w)
			b.vy[k] = accumulate(b.vy[k], fy*w)
		}
	}
	b.dirty = true
}

func clampCell(v, n float64) int {
	return int(math.Max(0, math.Min(n-1, math.Floor(v))))
}

func accumulate(v float32, add float64) float32 {
	return float32(clamp(float64(v)+add, -MaxSplatSource, MaxSplatSource))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Pending reports whether splats are waiting for Flush.
func (b *Brush) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Flush uploads the accumulated splats as the source fields of p and
// clears the accumulator. It is a no-op when there is nothing to upload
// and no previous splat to clear.
func (b *Brush) Flush(p *SimulationPipeline) error {
	if p == nil {
		return errors.New("fluid: brush flush: nil pipeline")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty && !b.active {
		return nil
	}
	if err := p.SetSources(b.vx, b.vy, b.dx, b.dy); err != nil {
		return err
	}
	b.active = b.dirty
	b.dirty = false
	clear(b.vx)
	clear(b.vy)
	clear(b.dx)
	clear(b.dy)
	return nil
}
