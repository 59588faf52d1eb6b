package fluid

import (
	"errors"
	"testing"

	"github.com/gogpu/fluid/backend/cpu"
	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
)

type frameFixture struct {
	dev    *cpu.Device
	cfg    *Config
	sim    *SimulationPipeline
	orch   *FrameOrchestrator
	target gpucore.TextureID
}

func newFrameFixture(t *testing.T, steps int, opts ...cpu.Option) *frameFixture {
	t.Helper()
	dev := newTestDevice(t, opts...)
	cfg := newTestConfig(t, 4,
		WithIterations(2),
		WithStepsPerFrame(steps),
		WithTargetFormat(gputypes.TextureFormatRGBA8Unorm))
	sim := newTestPipeline(t, dev, cfg, InitialState{DensityX: spike(cfg, 2, 2, 1)})
	ps := newTestPresentation(t, dev, cfg, sim, DefaultColormap())
	orch, err := NewFrameOrchestrator(dev, cfg, sim, ps)
	if err != nil {
		t.Fatalf("NewFrameOrchestrator() error = %v", err)
	}
	return &frameFixture{dev: dev, cfg: cfg, sim: sim, orch: orch, target: newTarget(t, dev, cfg, 8, 8)}
}

func TestRenderFrame(t *testing.T) {
	f := newFrameFixture(t, 3)
	var seen []FrameStats
	f.orch.OnFrame(func(s FrameStats) { seen = append(seen, s) })

	for range 2 {
		if err := f.orch.RenderFrame(f.target); err != nil {
			t.Fatalf("RenderFrame() error = %v", err)
		}
	}

	if got := f.orch.Frames(); got != 2 {
		t.Errorf("Frames() = %d, want 2", got)
	}
	stats := f.orch.Stats()
	if stats.Steps != 6 {
		t.Errorf("Stats().Steps = %d, want 6", stats.Steps)
	}
	if f.sim.Parity() != 0 {
		t.Errorf("Parity() = %d after 6 steps, want 0", f.sim.Parity())
	}
	if len(seen) != 2 || seen[0].Frames != 1 || seen[0].Steps != 3 || seen[1].Steps != 6 {
		t.Errorf("OnFrame saw %+v", seen)
	}
	ds := f.dev.Stats()
	if ds.Submits != 2 || ds.Draws != 2 {
		t.Errorf("Submits, Draws = %d, %d, want one each per frame", ds.Submits, ds.Draws)
	}
}

func TestRenderFrameWithoutSteps(t *testing.T) {
	f := newFrameFixture(t, 0)
	if err := f.orch.RenderFrame(f.target); err != nil {
		t.Fatalf("RenderFrame() error = %v", err)
	}
	if f.sim.Steps() != 0 || f.sim.Parity() != 0 {
		t.Errorf("Steps, Parity = %d, %d, want 0, 0", f.sim.Steps(), f.sim.Parity())
	}
	if s := f.dev.Stats(); s.Dispatches != 0 || s.Instances != 16 {
		t.Errorf("Dispatches, Instances = %d, %d, want 0, 16", s.Dispatches, s.Instances)
	}
}

func TestRenderFrameRecordingFailureRestoresParity(t *testing.T) {
	f := newFrameFixture(t, 1)
	if err := f.orch.RenderFrame(f.target); err != nil {
		t.Fatal(err)
	}

	err := f.orch.RenderFrame(9999)
	if err == nil {
		t.Fatal("RenderFrame(unknown target) error = nil")
	}
	if errors.Is(err, ErrDeviceLost) {
		t.Errorf("RenderFrame() error = %v, want a recording error", err)
	}
	if f.sim.Steps() != 1 || f.sim.Parity() != 1 {
		t.Errorf("Steps, Parity after failed frame = %d, %d, want 1, 1", f.sim.Steps(), f.sim.Parity())
	}
	if s := f.dev.Stats(); s.Submits != 1 {
		t.Errorf("Submits = %d, want 1", s.Submits)
	}

	// The orchestrator stays usable.
	if err := f.orch.RenderFrame(f.target); err != nil {
		t.Fatalf("RenderFrame() after a recording failure = %v", err)
	}
	if f.sim.Steps() != 2 {
		t.Errorf("Steps() = %d, want 2", f.sim.Steps())
	}
}

func TestRenderFrameDeviceLossIsSticky(t *testing.T) {
	f := newFrameFixture(t, 1, cpu.WithLostAfter(1))
	if err := f.orch.RenderFrame(f.target); err != nil {
		t.Fatalf("first RenderFrame() error = %v", err)
	}

	err := f.orch.RenderFrame(f.target)
	var dl *DeviceLossError
	if !errors.As(err, &dl) || !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("RenderFrame() error = %v, want *DeviceLossError", err)
	}
	if f.sim.Steps() != 1 || f.sim.Parity() != 1 {
		t.Errorf("Steps, Parity after lost frame = %d, %d, want 1, 1", f.sim.Steps(), f.sim.Parity())
	}

	again := f.orch.RenderFrame(f.target)
	var dl2 *DeviceLossError
	if !errors.As(again, &dl2) || dl2 != dl {
		t.Errorf("later RenderFrame() error = %v, want the same device loss", again)
	}
	if f.orch.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", f.orch.Frames())
	}
}

func TestFrameOrchestratorClose(t *testing.T) {
	f := newFrameFixture(t, 1)
	f.orch.Close()
	if err := f.orch.RenderFrame(f.target); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("RenderFrame() after Close = %v, want ErrPipelineClosed", err)
	}
	if f.sim.Steps() != 0 {
		t.Errorf("Steps() = %d, want 0", f.sim.Steps())
	}
}

func TestRenderFrameDestroyedSimulation(t *testing.T) {
	f := newFrameFixture(t, 1)
	f.sim.Destroy()
	if err := f.orch.RenderFrame(f.target); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("RenderFrame() with destroyed simulation = %v, want ErrPipelineClosed", err)
	}
}

func TestNewFrameOrchestratorErrors(t *testing.T) {
	dev := newTestDevice(t)
	cfg := newTestConfig(t, 2)
	if _, err := NewFrameOrchestrator(dev, cfg, nil, nil); err == nil {
		t.Error("NewFrameOrchestrator(nil, nil) error = nil")
	}
	if _, err := NewFrameOrchestrator(dev, &Config{}, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewFrameOrchestrator(zero config) error = %v, want ErrInvalidConfig", err)
	}
}
