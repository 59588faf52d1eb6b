package gpucore

import (
	"errors"
	"fmt"
)

// Device errors shared by all backends.
var (
	// ErrDeviceLost is returned when the device can no longer execute work.
	// Every resource created from it is invalid; the caller must rebuild.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource id")

	// ErrPassEnded is recorded when a command is issued on an ended pass.
	ErrPassEnded = errors.New("gpucore: pass has already ended")

	// ErrPassOpen is recorded when a pass begins or the encoder finishes
	// while another pass is still recording.
	ErrPassOpen = errors.New("gpucore: previous pass has not ended")

	// ErrEncoderFinished is returned when recording continues after Finish.
	ErrEncoderFinished = errors.New("gpucore: command encoder already finished")

	// ErrNoPipeline is recorded when a dispatch or draw has no pipeline bound.
	ErrNoPipeline = errors.New("gpucore: no pipeline bound")

	// ErrWorkgroupCountZero is recorded when any dispatch dimension is zero.
	ErrWorkgroupCountZero = errors.New("gpucore: workgroup count must be greater than zero")
)

// DeviceLossError reports a device loss observed during an operation.
type DeviceLossError struct {
	// Op is the operation that observed the loss (e.g., "submit").
	Op string
	// Err is the backend error, if any.
	Err error
}

func (e *DeviceLossError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gpucore: device lost during %s", e.Op)
	}
	return fmt.Sprintf("gpucore: device lost during %s: %v", e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *DeviceLossError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDeviceLost.
func (e *DeviceLossError) Is(target error) bool { return target == ErrDeviceLost }
