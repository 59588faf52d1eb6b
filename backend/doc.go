// Package backend provides the registry of device backends.
//
// A backend opens a [gpucore.Device], the device/queue collaborator the
// fluid pipeline records into. Backends register a factory from an init()
// function and are selected at runtime.
//
// # Backend Registration
//
// Import a backend package for its side effect:
//
//	import _ "github.com/gogpu/fluid/backend/cpu"
//	import _ "github.com/gogpu/fluid/backend/native"
//
// # Backend Selection
//
// Use Default() to open the best available backend, or Open() to request
// a specific backend by name:
//
//	// Open the default (best available) backend
//	dev, err := backend.Default()
//
//	// Or request a specific backend
//	dev, err := backend.Open(backend.BackendCPU)
//
// # Available Backends
//
//   - "native": Pure Go GPU device over the gogpu/wgpu HAL (Vulkan, Metal,
//     DX12, GLES). Excluded with the nogpu build tag.
//   - "cpu": reference device that runs Go ports of every kernel (always
//     available)
package backend
