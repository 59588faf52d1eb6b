// Package cpu provides an in-memory gpucore.Device that needs no GPU.
//
// Buffers live in host memory. Compute pipelines resolve the kernel name
// to a Go implementation that follows the WGSL kernel invocation by
// invocation, so results match the GPU up to float32 rounding. Render
// passes rasterize the instanced cell quads of the display kernel into an
// image.RGBA.
//
// Recording follows the WebGPU error model: pass methods record the
// first error, which is returned by Finish. Commands run at Submit, in
// order, with each dispatch split across a worker pool.
//
// The device also counts what it is asked to do (see [Stats]), which
// makes it the backend of choice for tests.
package cpu
