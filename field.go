package fluid

import (
	"fmt"

	"github.com/gogpu/fluid/gpucore"
)

// Resource is anything that can be bound to a stage: a whole field
// contributes its x and y buffers, a Channel contributes one buffer.
type Resource interface {
	Buffers() []gpucore.BufferID
}

// Field2D is a two-channel float32 grid of PaddedDimension^2 elements per
// channel, stored row-major with a one-cell ghost ring.
type Field2D struct {
	dev   gpucore.Device
	cfg   *Config
	label string
	x, y  gpucore.BufferID
}

// fieldUsage lets a field be bound as storage, updated from the host and
// read back.
const fieldUsage = gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc

// AllocateField creates both channel buffers of a field. A nil initial
// slice leaves its channel zero-filled; a non-nil slice must hold exactly
// BufferElementCount values and is uploaded once at creation.
func AllocateField(dev gpucore.Device, cfg *Config, label string, initX, initY []float32) (*Field2D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.BufferElementCount()
	if err := checkLen(label+".x", initX, n); err != nil {
		return nil, err
	}
	if err := checkLen(label+".y", initY, n); err != nil {
		return nil, err
	}

	f := &Field2D{dev: dev, cfg: cfg, label: label}
	var err error
	if f.x, err = createChannel(dev, cfg, label+".x", initX); err != nil {
		return nil, err
	}
	if f.y, err = createChannel(dev, cfg, label+".y", initY); err != nil {
		dev.DestroyBuffer(f.x)
		return nil, err
	}

	Logger().Debug("fluid: field allocated",
		"label", label,
		"elements", n,
		"bytes", cfg.BufferSize())
	return f, nil
}

func checkLen(label string, values []float32, want int) error {
	if values != nil && len(values) != want {
		return fmt.Errorf("%w: %s has %d elements, want %d", ErrSizeMismatch, label, len(values), want)
	}
	return nil
}

func createChannel(dev gpucore.Device, cfg *Config, label string, init []float32) (gpucore.BufferID, error) {
	desc := &gpucore.BufferDesc{
		Label: label,
		Size:  cfg.BufferSize(),
		Usage: fieldUsage,
	}
	if init != nil {
		desc.Contents = float32Bytes(init)
	}
	id, err := dev.CreateBuffer(desc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("fluid: create buffer %s: %w", label, err)
	}
	return id, nil
}

// Label returns the field label.
func (f *Field2D) Label() string { return f.label }

// Rows returns the padded row count.
func (f *Field2D) Rows() uint32 { return f.cfg.PaddedDimension() }

// Cols returns the padded column count.
func (f *Field2D) Cols() uint32 { return f.cfg.PaddedDimension() }

// Len returns the element count of each channel.
func (f *Field2D) Len() int { return f.cfg.BufferElementCount() }

// Index returns the element index of a padded (row, col) position.
func (f *Field2D) Index(row, col uint32) int {
	return int(row)*int(f.cfg.PaddedDimension()) + int(col)
}

// X returns the x channel as a single-buffer resource.
func (f *Field2D) X() Channel { return Channel{field: f, buffer: f.x} }

// Y returns the y channel as a single-buffer resource.
func (f *Field2D) Y() Channel { return Channel{field: f, buffer: f.y} }

// Buffers returns [x, y], the binding order of a field.
func (f *Field2D) Buffers() []gpucore.BufferID {
	return []gpucore.BufferID{f.x, f.y}
}

// ReadBack copies both channels to host memory. It waits for submitted
// work and is meant for tests and snapshots, not for the frame loop.
func (f *Field2D) ReadBack() (x, y []float32, err error) {
	if x, err = f.X().ReadBack(); err != nil {
		return nil, nil, err
	}
	if y, err = f.Y().ReadBack(); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// WriteChannel replaces channel ch (0 for x, 1 for y) with values.
func (f *Field2D) WriteChannel(ch int, values []float32) error {
	var c Channel
	switch ch {
	case 0:
		c = f.X()
	case 1:
		c = f.Y()
	default:
		return fmt.Errorf("fluid: %s: channel %d out of range", f.label, ch)
	}
	return c.Write(values)
}

// Destroy releases both buffers.
func (f *Field2D) Destroy() {
	if f.x != gpucore.InvalidID {
		f.dev.DestroyBuffer(f.x)
		f.x = gpucore.InvalidID
	}
	if f.y != gpucore.InvalidID {
		f.dev.DestroyBuffer(f.y)
		f.y = gpucore.InvalidID
	}
}

// Channel is one channel buffer of a field.
type Channel struct {
	field  *Field2D
	buffer gpucore.BufferID
}

// Buffer returns the channel buffer.
func (c Channel) Buffer() gpucore.BufferID { return c.buffer }

// Buffers returns the single channel buffer.
func (c Channel) Buffers() []gpucore.BufferID {
	return []gpucore.BufferID{c.buffer}
}

// ReadBack copies the channel to host memory.
func (c Channel) ReadBack() ([]float32, error) {
	b, err := c.field.dev.ReadBuffer(c.buffer, 0, c.field.cfg.BufferSize())
	if err != nil {
		return nil, fmt.Errorf("fluid: read %s: %w", c.field.label, err)
	}
	return bytesFloat32(b), nil
}

// Write replaces the channel contents.
func (c Channel) Write(values []float32) error {
	if len(values) != c.field.Len() {
		return fmt.Errorf("%w: %s write has %d elements, want %d", ErrSizeMismatch, c.field.label, len(values), c.field.Len())
	}
	if err := c.field.dev.WriteBuffer(c.buffer, 0, float32Bytes(values)); err != nil {
		return fmt.Errorf("fluid: write %s: %w", c.field.label, err)
	}
	return nil
}
