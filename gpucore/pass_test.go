package gpucore

import (
	"errors"
	"testing"
)

func TestPassStateString(t *testing.T) {
	tests := []struct {
		state PassState
		want  string
	}{
		{PassStateRecording, "Recording"},
		{PassStateEnded, "Ended"},
		{PassState(7), "Unknown(7)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("PassState(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestRecorderKeepsFirstError(t *testing.T) {
	var r Recorder
	first := errors.New("first")
	r.Fail(nil)
	r.Fail(first)
	r.Fail(errors.New("second"))
	if err := r.Finish(); !errors.Is(err, first) {
		t.Errorf("Finish() = %v, want %v", err, first)
	}
}

func TestRecorderPassLifecycle(t *testing.T) {
	var r Recorder
	if !r.BeginPass() {
		t.Fatal("BeginPass() = false on idle encoder")
	}
	if r.BeginPass() {
		t.Error("BeginPass() = true while a pass is open")
	}
	if err := r.Err(); !errors.Is(err, ErrPassOpen) {
		t.Errorf("Err() = %v, want ErrPassOpen", err)
	}
}

func TestRecorderFinishWithOpenPass(t *testing.T) {
	var r Recorder
	r.BeginPass()
	if err := r.Finish(); !errors.Is(err, ErrPassOpen) {
		t.Errorf("Finish() = %v, want ErrPassOpen", err)
	}
	if !r.Finished() {
		t.Error("Finished() = false after Finish")
	}
	if r.BeginPass() {
		t.Error("BeginPass() = true after Finish")
	}
}

func TestPassTracker(t *testing.T) {
	var r Recorder
	r.BeginPass()
	p := NewPassTracker(&r)

	if p.Ready() {
		t.Error("Ready() = true with no pipeline")
	}
	if err := r.Err(); !errors.Is(err, ErrNoPipeline) {
		t.Errorf("Err() = %v, want ErrNoPipeline", err)
	}

	if !p.SetPipeline(3) || p.Pipeline() != 3 {
		t.Errorf("Pipeline() = %d, want 3", p.Pipeline())
	}
	if !p.SetBindGroup(0, 9) || p.BindGroup() != 9 {
		t.Errorf("BindGroup() = %d, want 9", p.BindGroup())
	}
	if p.SetBindGroup(1, 9) {
		t.Error("SetBindGroup(1) = true, want false")
	}
	if !p.End() {
		t.Fatal("End() = false on recording pass")
	}
	if p.State() != PassStateEnded {
		t.Errorf("State() = %v, want Ended", p.State())
	}
	if p.End() {
		t.Error("second End() = true, want false")
	}
}

func TestDeviceLossError(t *testing.T) {
	cause := errors.New("driver reset")
	err := error(&DeviceLossError{Op: "submit", Err: cause})
	if !errors.Is(err, ErrDeviceLost) {
		t.Error("errors.Is(err, ErrDeviceLost) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got, want := err.Error(), "gpucore: device lost during submit: driver reset"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestBufferUsageHas(t *testing.T) {
	u := BufferUsageStorage | BufferUsageCopyDst
	if !u.Has(BufferUsageStorage) {
		t.Error("Has(Storage) = false")
	}
	if u.Has(BufferUsageStorage | BufferUsageUniform) {
		t.Error("Has(Storage|Uniform) = true")
	}
}
