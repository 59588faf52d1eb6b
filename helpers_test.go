package fluid

import (
	"context"
	"testing"

	"github.com/gogpu/fluid/backend/cpu"
)

func newTestDevice(t *testing.T, opts ...cpu.Option) *cpu.Device {
	t.Helper()
	d := cpu.New(append([]cpu.Option{cpu.WithWorkers(2)}, opts...)...)
	t.Cleanup(d.Destroy)
	return d
}

func newTestConfig(t *testing.T, n uint32, opts ...Option) *Config {
	t.Helper()
	cfg, err := NewConfig(n, opts...)
	if err != nil {
		t.Fatalf("NewConfig(%d) error = %v", n, err)
	}
	return cfg
}

func newTestPipeline(t *testing.T, dev *cpu.Device, cfg *Config, state InitialState) *SimulationPipeline {
	t.Helper()
	p, err := NewSimulationPipeline(context.Background(), dev, cfg, state)
	if err != nil {
		t.Fatalf("NewSimulationPipeline() error = %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func newTestPresentation(t *testing.T, dev *cpu.Device, cfg *Config, sim *SimulationPipeline, cmap Colormap) *PresentationStage {
	t.Helper()
	ps, err := NewPresentationStage(context.Background(), dev, cfg, sim, cmap)
	if err != nil {
		t.Fatalf("NewPresentationStage() error = %v", err)
	}
	t.Cleanup(ps.Destroy)
	return ps
}

// submitSteps records and submits n steps in one command buffer.
func submitSteps(t *testing.T, dev *cpu.Device, p *SimulationPipeline, n int) {
	t.Helper()
	enc, err := dev.CreateCommandEncoder("steps")
	if err != nil {
		t.Fatal(err)
	}
	for range n {
		if err := p.Step(enc); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := dev.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

// spike returns a field with value v at padded (row, col).
func spike(cfg *Config, row, col uint32, v float32) []float32 {
	values := make([]float32, cfg.BufferElementCount())
	values[int(row)*int(cfg.PaddedDimension())+int(col)] = v
	return values
}
