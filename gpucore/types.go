package gpucore

import (
	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent device resources. Each backend maintains a
// mapping between IDs and its own objects. IDs are uint64 to accommodate
// various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// PipelineID is an opaque handle to a compute or render pipeline.
type PipelineID uint64

// BindGroupID is an opaque handle to a binding set.
type BindGroupID uint64

// TextureID is an opaque handle to a color render target.
type TextureID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// SlotKind specifies the type of a kernel resource slot.
type SlotKind uint8

// Slot kinds.
const (
	// SlotUniform is a uniform parameter block (var<uniform>).
	SlotUniform SlotKind = iota + 1

	// SlotReadOnlyStorage is a read-only storage buffer (var<storage, read>).
	SlotReadOnlyStorage

	// SlotStorage is a read-write storage buffer (var<storage, read_write>).
	SlotStorage
)

// String returns the WGSL spelling of the slot kind.
func (k SlotKind) String() string {
	switch k {
	case SlotUniform:
		return "uniform"
	case SlotReadOnlyStorage:
		return "storage,read"
	case SlotStorage:
		return "storage,read_write"
	default:
		return "unknown"
	}
}

// BindingSlot is one resource slot declared by a kernel in bind group 0.
type BindingSlot struct {
	Binding uint32
	Kind    SlotKind
	// Name is the WGSL global variable name, used in diagnostics.
	Name string
}

// ShaderStages is a bitmask of pipeline stages a slot is visible to.
type ShaderStages uint8

// Shader stage flags.
const (
	StageVertex   ShaderStages = 1 << 0
	StageFragment ShaderStages = 1 << 1
	StageCompute  ShaderStages = 1 << 2
)

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage

	// Contents, when non-nil, is uploaded once at creation. It must not be
	// longer than Size. The remainder of the buffer is zero-filled.
	Contents []byte
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label string

	// Kernel names the kernel. Backends that cannot run arbitrary WGSL
	// (backend/cpu) resolve their implementation from it.
	Kernel string

	// Source is the WGSL source with the workgroup shape already applied.
	Source string

	// SPIRV is the compiled module, for backends that prefer it.
	SPIRV []uint32

	// EntryPoint is the compute entry point name.
	EntryPoint string

	// Layout is the reflected bind group 0 layout, sorted by binding.
	Layout []BindingSlot

	// Workgroup is the declared @workgroup_size of EntryPoint.
	Workgroup [3]uint32
}

// RenderPipelineDesc describes a render pipeline with no vertex buffers.
type RenderPipelineDesc struct {
	Label         string
	Kernel        string
	Source        string
	SPIRV         []uint32
	VertexEntry   string
	FragmentEntry string
	Layout        []BindingSlot
	Format        gputypes.TextureFormat
}

// BindGroupEntry binds a whole buffer to a slot.
type BindGroupEntry struct {
	Binding uint32
	Buffer  BufferID
}

// BindGroupDesc describes a binding set for bind group 0 of a pipeline.
// The layout is taken from the pipeline.
type BindGroupDesc struct {
	Label    string
	Pipeline PipelineID
	Entries  []BindGroupEntry
}

// RenderTargetDesc describes an offscreen color target.
type RenderTargetDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
}

// RenderPassDesc describes a render pass with one color attachment that is
// cleared on load and stored on completion.
type RenderPassDesc struct {
	Label  string
	Target TextureID
	Clear  gputypes.Color
}
