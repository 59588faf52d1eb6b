package fluid

import (
	"errors"
	"fmt"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/kernels"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	// ErrInvalidConfig is returned for a configuration that cannot describe
	// a simulation (zero grid, zero workgroup dimension, negative rates).
	ErrInvalidConfig = errors.New("fluid: invalid configuration")

	// ErrSizeMismatch is returned when host data does not have exactly
	// BufferElementCount elements.
	ErrSizeMismatch = errors.New("fluid: data length does not match field size")

	// ErrBindingArity is returned when the resources handed to a stage do
	// not match the slots declared by its kernel.
	ErrBindingArity = errors.New("fluid: resource count does not match kernel slots")

	// ErrBufferAliasing is returned when an output buffer is also bound as
	// an input or as another output of the same stage.
	ErrBufferAliasing = errors.New("fluid: output buffer aliases another binding")

	// ErrKernelCompile is matched by every *KernelCompileError.
	ErrKernelCompile = kernels.ErrCompile

	// ErrDeviceLost is matched by every *DeviceLossError.
	ErrDeviceLost = gpucore.ErrDeviceLost

	// ErrPipelineClosed is returned by operations on a destroyed pipeline,
	// presenter or orchestrator.
	ErrPipelineClosed = errors.New("fluid: pipeline closed")
)

// KernelCompileError reports a kernel that failed to compile or that does
// not expose the interface a stage requires.
type KernelCompileError = kernels.CompileError

// DeviceLossError reports a device loss observed during an operation.
type DeviceLossError = gpucore.DeviceLossError

// ConfigError describes an invalid configuration field.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("fluid: invalid configuration: %s = %v: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// BindingArityError reports a stage whose resources do not match the
// kernel's input and output slots.
type BindingArityError struct {
	Stage       string
	WantInputs  int
	GotInputs   int
	WantOutputs int
	GotOutputs  int
}

func (e *BindingArityError) Error() string {
	return fmt.Sprintf("fluid: stage %s: kernel declares %d input and %d output buffers, got %d and %d",
		e.Stage, e.WantInputs, e.WantOutputs, e.GotInputs, e.GotOutputs)
}

// Is reports whether target is ErrBindingArity.
func (e *BindingArityError) Is(target error) bool { return target == ErrBindingArity }
