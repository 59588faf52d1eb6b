package backend

import (
	"errors"

	"github.com/gogpu/fluid/gpucore"
)

// Backend name constants.
const (
	// BackendNative is the name of the Pure Go GPU backend (gogpu/wgpu HAL).
	BackendNative = "native"
	// BackendCPU is the name of the CPU reference backend.
	BackendCPU = "cpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or cannot open a device on this machine.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new device. A factory that cannot run on this machine
// (no adapter, build tag excluded) returns an error wrapping
// ErrBackendNotAvailable.
type Factory func() (gpucore.Device, error)
