package fluid

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/fluid/gpucore"
)

// FrameStats summarizes the frames rendered by an orchestrator.
type FrameStats struct {
	Frames    uint64
	Steps     uint64
	LastFrame time.Duration
}

// FrameOrchestrator records StepsPerFrame simulation steps followed by one
// presentation draw into a single command buffer per frame and submits it.
type FrameOrchestrator struct {
	mu        sync.Mutex
	dev       gpucore.Device
	cfg       *Config
	sim       *SimulationPipeline
	present   *PresentationStage
	frames    uint64
	lastFrame time.Duration
	onFrame   func(FrameStats)
	lost      error
	closed    bool
}

// NewFrameOrchestrator wires a simulation and its presentation to dev.
func NewFrameOrchestrator(dev gpucore.Device, cfg *Config, sim *SimulationPipeline, present *PresentationStage) (*FrameOrchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sim == nil || present == nil {
		return nil, errors.New("fluid: frame orchestrator needs a simulation and a presentation stage")
	}
	return &FrameOrchestrator{dev: dev, cfg: cfg, sim: sim, present: present}, nil
}

// RenderFrame advances the simulation by StepsPerFrame steps and draws
// the result into target, submitting everything at once.
//
// If recording fails the encoder is discarded, nothing is submitted and
// the simulation keeps the parity it had before the frame. A device loss
// is sticky: every later call returns the same *DeviceLossError.
func (o *FrameOrchestrator) RenderFrame(target gpucore.TextureID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.closed:
		return ErrPipelineClosed
	case o.lost != nil:
		return o.lost
	}

	start := time.Now()
	mark := o.sim.mark()

	enc, err := o.dev.CreateCommandEncoder("fluid.frame")
	if err != nil {
		return o.fail("create encoder", err)
	}
	cmd, err := o.record(enc, target)
	if err != nil {
		enc.Discard()
		o.sim.restore(mark)
		return o.fail("record frame", err)
	}
	if err := o.dev.Submit(cmd); err != nil {
		o.sim.restore(mark)
		return o.fail("submit", err)
	}

	o.frames++
	o.lastFrame = time.Since(start)
	stats := o.statsLocked()
	Logger().Debug("fluid: frame submitted",
		"frame", stats.Frames,
		"steps", stats.Steps,
		"elapsed", stats.LastFrame)
	if o.onFrame != nil {
		o.onFrame(stats)
	}
	return nil
}

func (o *FrameOrchestrator) record(enc gpucore.CommandEncoder, target gpucore.TextureID) (gpucore.CommandBuffer, error) {
	for range o.cfg.StepsPerFrame {
		if err := o.sim.Step(enc); err != nil {
			return nil, err
		}
	}
	if err := o.present.Draw(enc, target); err != nil {
		return nil, err
	}
	return enc.Finish()
}

// fail wraps err and latches device loss.
func (o *FrameOrchestrator) fail(op string, err error) error {
	if errors.Is(err, ErrDeviceLost) {
		var dl *DeviceLossError
		if !errors.As(err, &dl) {
			dl = &DeviceLossError{Op: op, Err: err}
		}
		o.lost = dl
		Logger().Warn("fluid: device lost", "op", op, "err", err)
		return dl
	}
	if errors.Is(err, ErrPipelineClosed) {
		return err
	}
	return fmt.Errorf("fluid: %s: %w", op, err)
}

// Frames returns the number of submitted frames.
func (o *FrameOrchestrator) Frames() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

// Stats returns the frame and step counters.
func (o *FrameOrchestrator) Stats() FrameStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsLocked()
}

func (o *FrameOrchestrator) statsLocked() FrameStats {
	return FrameStats{Frames: o.frames, Steps: o.sim.Steps(), LastFrame: o.lastFrame}
}

// OnFrame sets a hook called after every submitted frame, while the
// orchestrator is locked. The hook must not call back into it.
func (o *FrameOrchestrator) OnFrame(fn func(FrameStats)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFrame = fn
}

// Close stops the orchestrator. It does not destroy the simulation or
// the presentation stage, which the caller owns.
func (o *FrameOrchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}
