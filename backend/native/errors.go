//go:build !nogpu

package native

import "errors"

// Package errors for the native device.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrInvalidDescriptor is returned for descriptors the device rejects
	// before reaching the HAL.
	ErrInvalidDescriptor = errors.New("native: invalid descriptor")

	// ErrUnsupportedFormat is returned for render target formats other than
	// RGBA8Unorm and BGRA8Unorm.
	ErrUnsupportedFormat = errors.New("native: unsupported texture format")

	// ErrNotReadable is returned when reading back an imported view.
	ErrNotReadable = errors.New("native: render target cannot be read back")

	// ErrNoHALProvider is returned when a DeviceProvider does not expose
	// HAL objects.
	ErrNoHALProvider = errors.New("native: provider does not expose HAL types")

	// ErrDestroyed is the loss cause reported after Destroy.
	ErrDestroyed = errors.New("native: device destroyed")
)
