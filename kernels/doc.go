// Package kernels holds the WGSL kernels of the fluid solver and compiles
// them with the pure Go naga compiler.
//
// Every compute kernel follows one binding convention in bind group 0:
//
//	@binding(0)        var<uniform> params: Params
//	@binding(1..k)     var<storage, read>       inputs
//	@binding(k+1..m)   var<storage, read_write> outputs
//
// A two-channel field binds its x channel then its y channel. The
// workgroup shape is a template parameter applied by [Source].
//
// Compilation runs parse, lower, validate and SPIR-V generation. The slot
// layout of a compiled [Kernel] is reflected from the lowered module, so
// stages never hand-write binding layouts.
package kernels
