// Package native provides a gpucore.Device backed by gogpu/wgpu/hal.
//
// The device runs the fluid kernels as WGSL compute pipelines on Vulkan,
// Metal, DX12 or GLES, whichever HAL backends are linked into the binary
// and can open an adapter:
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
//	dev, err := native.Open()
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//
// The backend registered as gputypes.BackendEmpty (noop, or the software
// rasterizer when built with the software tag) is only used when selected
// with WithBackend.
//
// # Device Sharing
//
// When a window toolkit already owns a device, wrap it instead of opening a
// second one:
//
//	dev, err := native.NewFromProvider(provider)
//
// Surface textures acquired per frame can be drawn into after
// ImportTextureView.
//
// # Synchronization
//
// Every pass is recorded into one HAL command encoder. Storage buffers
// written by a compute pass are guarded by a buffer barrier before the next
// pass begins, so the stages of one simulation step can share an encoder.
// ReadBuffer and ReadRenderTarget wait for the queue to go idle.
//
// # Device Loss
//
// A hal.ErrDeviceLost observed anywhere is sticky: the failing call and
// every later call return a *gpucore.DeviceLossError wrapping it.
//
// # Build Tags
//
// Building with -tags nogpu replaces the package with a stub whose
// registered factory always fails, so backend.Default selects the CPU
// device.
package native
