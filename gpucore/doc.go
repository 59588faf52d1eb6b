// Package gpucore defines the device collaborator used by the fluid pipeline.
//
// The simulation never talks to a graphics API directly. Every buffer,
// kernel, binding set and command recording goes through the [Device]
// interface, which backends implement on top of a concrete API:
//   - backend/native wraps gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES, software)
//   - backend/cpu executes Go mirrors of the built-in kernels in memory
//
// # Architecture
//
//	        +--------------------------+
//	        |  fluid (stages, frames)  |
//	        +------------+-------------+
//	                     |
//	              gpucore.Device
//	                     |
//	      +--------------+--------------+
//	      |                             |
//	+-----v---------+          +--------v------+
//	| native (HAL)  |          |  cpu (mirror) |
//	+---------------+          +---------------+
//
// # Resource Management
//
// Resources are referenced through opaque IDs ([BufferID], [PipelineID],
// [BindGroupID], [TextureID]). A backend keeps the mapping between IDs and
// its own objects. The zero value [InvalidID] never names a live resource.
//
// # Recording
//
// Work is recorded through a [CommandEncoder] obtained from
// [Device.CreateCommandEncoder]. Compute and render passes are recorded in
// order and execute in that order once the finished [CommandBuffer] is passed
// to [Device.Submit]. Later passes observe the writes of earlier passes in
// the same submission without explicit fences.
package gpucore
