package gpucore

import (
	"fmt"
	"sync"
)

// PassState represents the state of a pass encoder.
type PassState int

const (
	// PassStateRecording means the pass is actively recording commands.
	PassStateRecording PassState = iota

	// PassStateEnded means the pass has been ended.
	PassStateEnded
)

// String returns the string representation of PassState.
func (s PassState) String() string {
	switch s {
	case PassStateRecording:
		return "Recording"
	case PassStateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Recorder tracks the lifecycle of a command encoder and keeps the first
// recording error. Backends embed it in their encoder types.
//
// State Machine:
//
//	Idle -> BeginPass() -> InPass -> EndPass() -> Idle -> Finish() -> Finished
type Recorder struct {
	mu       sync.Mutex
	err      error
	inPass   bool
	finished bool
}

// Fail records err if no earlier error was recorded.
func (r *Recorder) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first recorded error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// BeginPass marks a pass as open. It records an error and returns false if
// the encoder is finished or another pass is still open.
func (r *Recorder) BeginPass() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.finished:
		r.setLocked(ErrEncoderFinished)
		return false
	case r.inPass:
		r.setLocked(ErrPassOpen)
		return false
	}
	r.inPass = true
	return true
}

// EndPass marks the open pass as ended.
func (r *Recorder) EndPass() {
	r.mu.Lock()
	r.inPass = false
	r.mu.Unlock()
}

// Finish marks the encoder finished and returns the first recorded error.
func (r *Recorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.setLocked(ErrEncoderFinished)
		return r.err
	}
	if r.inPass {
		r.setLocked(ErrPassOpen)
	}
	r.finished = true
	return r.err
}

// Finished reports whether Finish has been called.
func (r *Recorder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Recorder) setLocked(err error) {
	if r.err == nil {
		r.err = err
	}
}

// PassTracker holds the per-pass binding state shared by compute and render
// pass encoders. It is not safe for concurrent use; a pass is recorded from
// a single goroutine.
type PassTracker struct {
	rec       *Recorder
	state     PassState
	pipeline  PipelineID
	bindGroup BindGroupID
}

// NewPassTracker returns a tracker in the Recording state.
func NewPassTracker(rec *Recorder) *PassTracker {
	return &PassTracker{rec: rec, state: PassStateRecording}
}

// State returns the current pass state.
func (p *PassTracker) State() PassState { return p.state }

// Pipeline returns the bound pipeline.
func (p *PassTracker) Pipeline() PipelineID { return p.pipeline }

// BindGroup returns the binding set bound at index 0.
func (p *PassTracker) BindGroup() BindGroupID { return p.bindGroup }

// Recording reports whether commands may be recorded, recording
// ErrPassEnded otherwise.
func (p *PassTracker) Recording() bool {
	if p.state != PassStateRecording {
		p.rec.Fail(ErrPassEnded)
		return false
	}
	return true
}

// SetPipeline records the bound pipeline.
func (p *PassTracker) SetPipeline(id PipelineID) bool {
	if !p.Recording() {
		return false
	}
	if id == InvalidID {
		p.rec.Fail(fmt.Errorf("set pipeline: %w", ErrUnknownResource))
		return false
	}
	p.pipeline = id
	return true
}

// SetBindGroup records the binding set. Only group 0 is used by the
// fluid kernels.
func (p *PassTracker) SetBindGroup(index uint32, id BindGroupID) bool {
	if !p.Recording() {
		return false
	}
	if index != 0 {
		p.rec.Fail(fmt.Errorf("set bind group: index %d out of range", index))
		return false
	}
	if id == InvalidID {
		p.rec.Fail(fmt.Errorf("set bind group: %w", ErrUnknownResource))
		return false
	}
	p.bindGroup = id
	return true
}

// Ready reports whether a dispatch or draw may be issued.
func (p *PassTracker) Ready() bool {
	if !p.Recording() {
		return false
	}
	if p.pipeline == InvalidID {
		p.rec.Fail(ErrNoPipeline)
		return false
	}
	return true
}

// End transitions the pass to Ended. Ending twice records ErrPassEnded.
func (p *PassTracker) End() bool {
	if !p.Recording() {
		return false
	}
	p.state = PassStateEnded
	p.rec.EndPass()
	return true
}
