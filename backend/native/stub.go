//go:build nogpu

package native

import (
	"fmt"

	"github.com/gogpu/fluid/backend"
	"github.com/gogpu/fluid/gpucore"
)

// init registers a failing factory when built with the nogpu tag, so that
// backend.Default falls through to the CPU device.
func init() {
	backend.Register(backend.BackendNative, func() (gpucore.Device, error) {
		return nil, fmt.Errorf("%w: built with nogpu", backend.ErrBackendNotAvailable)
	})
}
