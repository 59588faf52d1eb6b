package cpu

import (
	"github.com/gogpu/fluid/backend"
	"github.com/gogpu/fluid/gpucore"
)

// init registers the CPU backend on package import.
//
//	import _ "github.com/gogpu/fluid/backend/cpu"
func init() {
	backend.Register(backend.BackendCPU, func() (gpucore.Device, error) {
		return New(), nil
	})
}
