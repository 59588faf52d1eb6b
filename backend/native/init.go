//go:build !nogpu

package native

import (
	"github.com/gogpu/fluid/backend"
	"github.com/gogpu/fluid/gpucore"
)

func init() {
	backend.Register(backend.BackendNative, func() (gpucore.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
