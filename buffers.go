package fluid

import (
	"github.com/gogpu/fluid/gpucore"
)

// DoubleField is a pair of fields with a read/write role that alternates
// every step.
//
// Previous is the read source of the next step and always holds the
// latest completed state. Current is the write target. Swap exchanges the
// roles without copying.
type DoubleField struct {
	fields [2]*Field2D
	parity int
}

// NewDoubleField allocates both fields. The initial data is placed in
// the field that starts as Previous.
func NewDoubleField(dev gpucore.Device, cfg *Config, label string, initX, initY []float32) (*DoubleField, error) {
	a, err := AllocateField(dev, cfg, label+"[0]", initX, initY)
	if err != nil {
		return nil, err
	}
	b, err := AllocateField(dev, cfg, label+"[1]", nil, nil)
	if err != nil {
		a.Destroy()
		return nil, err
	}
	return &DoubleField{fields: [2]*Field2D{a, b}}, nil
}

// Previous returns the read source, which holds the latest state.
func (d *DoubleField) Previous() *Field2D { return d.fields[d.parity] }

// Current returns the write target of the next step.
func (d *DoubleField) Current() *Field2D { return d.fields[1-d.parity] }

// Field returns the physical field i (0 or 1), independent of parity.
func (d *DoubleField) Field(i int) *Field2D { return d.fields[i] }

// Parity returns the index of the physical field currently in the
// Previous role.
func (d *DoubleField) Parity() int { return d.parity }

// Swap exchanges the Current and Previous roles.
func (d *DoubleField) Swap() { d.parity ^= 1 }

// Destroy releases both fields.
func (d *DoubleField) Destroy() {
	for _, f := range d.fields {
		if f != nil {
			f.Destroy()
		}
	}
}

// StepBufferSet groups the double-buffered state of one step. Both pairs
// always swap together, so they share one parity.
type StepBufferSet struct {
	Velocity *DoubleField
	Density  *DoubleField
}

// Swap swaps both pairs.
func (s *StepBufferSet) Swap() {
	s.Velocity.Swap()
	s.Density.Swap()
}

// Parity returns the shared parity.
func (s *StepBufferSet) Parity() int { return s.Velocity.Parity() }
