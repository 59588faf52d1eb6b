package gpucore

import (
	"image"
)

// Device is the device/queue collaborator consumed by the fluid pipeline.
//
// Implementations must be safe for use from one goroutine at a time per
// encoder; resource creation and Submit may be called concurrently.
type Device interface {
	// Name returns the backend name (e.g., "native", "cpu").
	Name() string

	// CreateBuffer creates a buffer, optionally initialized from desc.Contents.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// WriteBuffer uploads data into a buffer at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer reads size bytes starting at offset. It waits for all
	// submitted work to complete first.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// CreateComputePipeline compiles a compute kernel with the layout
	// derived from the kernel itself.
	CreateComputePipeline(desc *ComputePipelineDesc) (PipelineID, error)

	// CreateRenderPipeline compiles a render kernel (vertex + fragment).
	CreateRenderPipeline(desc *RenderPipelineDesc) (PipelineID, error)

	// DestroyPipeline releases a compute or render pipeline.
	DestroyPipeline(id PipelineID)

	// CreateBindGroup creates a binding set for bind group 0 of a pipeline.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a binding set.
	DestroyBindGroup(id BindGroupID)

	// CreateRenderTarget creates an offscreen color target.
	CreateRenderTarget(desc *RenderTargetDesc) (TextureID, error)

	// ReadRenderTarget copies a render target back to host memory.
	ReadRenderTarget(id TextureID) (*image.RGBA, error)

	// DestroyRenderTarget releases a render target created by
	// CreateRenderTarget or imported by the backend.
	DestroyRenderTarget(id TextureID)

	// CreateCommandEncoder opens a new command recording.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit executes finished command buffers in order on the single queue.
	Submit(cmds ...CommandBuffer) error

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error

	// Destroy releases the device and every resource it still owns.
	Destroy()
}

// CommandEncoder records passes into a command buffer.
//
// Recording errors are deferred: pass methods do not return errors, and the
// first error recorded anywhere in the encoder is returned by Finish.
type CommandEncoder interface {
	// BeginComputePass starts a compute pass. The previous pass must have ended.
	BeginComputePass(label string) ComputePassEncoder

	// BeginRenderPass starts a render pass. The previous pass must have ended.
	BeginRenderPass(desc *RenderPassDesc) RenderPassEncoder

	// Finish ends recording and returns the command buffer.
	Finish() (CommandBuffer, error)

	// Discard abandons the recording. Safe to call after Finish.
	Discard()

	// Err returns the first error recorded so far, such as a pass begun
	// after Finish or an unknown resource.
	Err() error
}

// ComputePassEncoder records dispatches.
type ComputePassEncoder interface {
	SetPipeline(id PipelineID)
	SetBindGroup(index uint32, id BindGroupID)
	Dispatch(x, y, z uint32)
	End()
}

// RenderPassEncoder records instanced draws without vertex buffers.
type RenderPassEncoder interface {
	SetPipeline(id PipelineID)
	SetBindGroup(index uint32, id BindGroupID)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	End()
}

// CommandBuffer is a finished recording, ready for Submit.
type CommandBuffer interface {
	// Label returns the encoder label the buffer was recorded with.
	Label() string
}
