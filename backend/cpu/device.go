package cpu

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/internal/parallel"
	"github.com/gogpu/gputypes"
)

// Errors specific to the CPU device.
var (
	// ErrNoMirror is returned when a pipeline names a kernel that has no
	// Go implementation.
	ErrNoMirror = errors.New("cpu: no implementation for kernel")

	// ErrInvalidDescriptor is returned for descriptors the device rejects.
	ErrInvalidDescriptor = errors.New("cpu: invalid descriptor")

	errSimulatedLoss = errors.New("cpu: simulated device loss")
)

type buffer struct {
	label     string
	usage     gpucore.BufferUsage
	words     []uint32
	destroyed bool
}

type pipeline struct {
	label     string
	kernel    string
	layout    []gpucore.BindingSlot
	workgroup [3]uint32
	compute   kernelFunc
	render    bool
	format    gputypes.TextureFormat
	destroyed bool
}

type bindGroup struct {
	label     string
	pipeline  *pipeline
	buffers   []*buffer // indexed by binding
	destroyed bool
}

type target struct {
	label     string
	format    gputypes.TextureFormat
	img       *image.RGBA
	destroyed bool
}

// Device is an in-memory gpucore.Device.
type Device struct {
	mu     sync.Mutex
	nextID uint64

	buffers   map[gpucore.BufferID]*buffer
	pipelines map[gpucore.PipelineID]*pipeline
	groups    map[gpucore.BindGroupID]*bindGroup
	targets   map[gpucore.TextureID]*target

	pool      *parallel.WorkerPool
	lostAfter int
	lost      error
	stats     Stats
	destroyed bool
}

var _ gpucore.Device = (*Device)(nil)

// New returns a CPU device.
func New(opts ...Option) *Device {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		buffers:   make(map[gpucore.BufferID]*buffer),
		pipelines: make(map[gpucore.PipelineID]*pipeline),
		groups:    make(map[gpucore.BindGroupID]*bindGroup),
		targets:   make(map[gpucore.TextureID]*target),
		pool:      parallel.NewWorkerPool(o.workers),
		lostAfter: o.lostAfter,
	}
	slogger().Info("cpu: device created", "workers", d.pool.Workers())
	return d
}

// Name returns "cpu".
func (d *Device) Name() string { return "cpu" }

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// checkLocked returns the sticky device loss, if any.
func (d *Device) checkLocked(op string) error {
	if d.lost != nil {
		return &gpucore.DeviceLossError{Op: op, Err: d.lost}
	}
	if d.destroyed {
		return &gpucore.DeviceLossError{Op: op, Err: errors.New("cpu: device destroyed")}
	}
	return nil
}

// CreateBuffer creates a zero-filled buffer and copies desc.Contents into it.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create buffer"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q size %d is not a positive multiple of 4", ErrInvalidDescriptor, desc.Label, desc.Size)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q contents exceed size", ErrInvalidDescriptor, desc.Label)
	}
	b := &buffer{label: desc.Label, usage: desc.Usage, words: make([]uint32, desc.Size/4)}
	putBytes(b.words, 0, desc.Contents)

	id := gpucore.BufferID(d.id())
	d.buffers[id] = b
	d.stats.BuffersCreated++
	d.stats.BuffersLive++
	slogger().Debug("cpu: buffer created", "label", desc.Label, "size", desc.Size)
	return id, nil
}

func (d *Device) bufferLocked(id gpucore.BufferID) (*buffer, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	return b, nil
}

// WriteBuffer copies data into a buffer. Offset and length must be
// multiples of 4.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("write buffer"); err != nil {
		return err
	}
	b, err := d.bufferLocked(id)
	if err != nil {
		return err
	}
	if !b.usage.Has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: buffer %q lacks CopyDst usage", ErrInvalidDescriptor, b.label)
	}
	if offset%4 != 0 || len(data)%4 != 0 || offset+uint64(len(data)) > uint64(len(b.words))*4 {
		return fmt.Errorf("%w: write of %d bytes at %d into buffer %q", ErrInvalidDescriptor, len(data), offset, b.label)
	}
	putBytes(b.words, offset/4, data)
	return nil
}

// ReadBuffer returns a copy of size bytes at offset.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("read buffer"); err != nil {
		return nil, err
	}
	b, err := d.bufferLocked(id)
	if err != nil {
		return nil, err
	}
	if !b.usage.Has(gpucore.BufferUsageCopySrc) && !b.usage.Has(gpucore.BufferUsageMapRead) {
		return nil, fmt.Errorf("%w: buffer %q is not readable", ErrInvalidDescriptor, b.label)
	}
	if offset%4 != 0 || size%4 != 0 || offset+size > uint64(len(b.words))*4 {
		return nil, fmt.Errorf("%w: read of %d bytes at %d from buffer %q", ErrInvalidDescriptor, size, offset, b.label)
	}
	return getBytes(b.words[offset/4 : (offset+size)/4]), nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		b.destroyed = true
		delete(d.buffers, id)
		d.stats.BuffersLive--
	}
}

// CreateComputePipeline resolves the Go implementation of desc.Kernel.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.PipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create compute pipeline"); err != nil {
		return gpucore.InvalidID, err
	}
	fn, ok := mirrors[desc.Kernel]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w %q", ErrNoMirror, desc.Kernel)
	}
	if desc.Workgroup[0] == 0 || desc.Workgroup[1] == 0 || desc.Workgroup[2] == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %q has workgroup %v", ErrInvalidDescriptor, desc.Label, desc.Workgroup)
	}
	p := &pipeline{
		label:     desc.Label,
		kernel:    desc.Kernel,
		layout:    append([]gpucore.BindingSlot(nil), desc.Layout...),
		workgroup: desc.Workgroup,
		compute:   fn,
	}
	id := gpucore.PipelineID(d.id())
	d.pipelines[id] = p
	d.stats.PipelinesCreated++
	d.stats.PipelinesLive++
	return id, nil
}

// CreateRenderPipeline accepts the display kernel only.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.PipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create render pipeline"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Kernel != displayKernel {
		return gpucore.InvalidID, fmt.Errorf("%w %q", ErrNoMirror, desc.Kernel)
	}
	if !supportedFormat(desc.Format) {
		return gpucore.InvalidID, fmt.Errorf("%w: unsupported target format %v", ErrInvalidDescriptor, desc.Format)
	}
	p := &pipeline{
		label:  desc.Label,
		kernel: desc.Kernel,
		layout: append([]gpucore.BindingSlot(nil), desc.Layout...),
		render: true,
		format: desc.Format,
	}
	id := gpucore.PipelineID(d.id())
	d.pipelines[id] = p
	d.stats.PipelinesCreated++
	d.stats.PipelinesLive++
	return id, nil
}

// DestroyPipeline releases a pipeline.
func (d *Device) DestroyPipeline(id gpucore.PipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[id]; ok {
		p.destroyed = true
		delete(d.pipelines, id)
		d.stats.PipelinesLive--
	}
}

// CreateBindGroup checks the entries against the pipeline layout.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create bind group"); err != nil {
		return gpucore.InvalidID, err
	}
	p, ok := d.pipelines[desc.Pipeline]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("pipeline %d: %w", desc.Pipeline, gpucore.ErrUnknownResource)
	}
	if len(desc.Entries) != len(p.layout) {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group %q has %d entries, layout has %d",
			ErrInvalidDescriptor, desc.Label, len(desc.Entries), len(p.layout))
	}

	bufs := make([]*buffer, len(p.layout))
	for _, e := range desc.Entries {
		slot, ok := findSlot(p.layout, e.Binding)
		if !ok || bufs[e.Binding] != nil {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group %q binding %d", ErrInvalidDescriptor, desc.Label, e.Binding)
		}
		b, err := d.bufferLocked(e.Buffer)
		if err != nil {
			return gpucore.InvalidID, err
		}
		want := gpucore.BufferUsageStorage
		if slot.Kind == gpucore.SlotUniform {
			want = gpucore.BufferUsageUniform
		}
		if !b.usage.Has(want) {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %q bound to %s slot %s",
				ErrInvalidDescriptor, b.label, slot.Kind, slot.Name)
		}
		bufs[e.Binding] = b
	}

	id := gpucore.BindGroupID(d.id())
	d.groups[id] = &bindGroup{label: desc.Label, pipeline: p, buffers: bufs}
	d.stats.BindGroupsCreated++
	d.stats.BindGroupsLive++
	return id, nil
}

// findSlot returns the slot for binding. Layouts are sorted and
// contiguous, so binding i is at index i.
func findSlot(layout []gpucore.BindingSlot, binding uint32) (gpucore.BindingSlot, bool) {
	if int(binding) >= len(layout) || layout[binding].Binding != binding {
		return gpucore.BindingSlot{}, false
	}
	return layout[binding], true
}

// DestroyBindGroup releases a binding set.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[id]; ok {
		g.destroyed = true
		delete(d.groups, id)
		d.stats.BindGroupsLive--
	}
}

func supportedFormat(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatRGBA8Unorm || f == gputypes.TextureFormatBGRA8Unorm
}

// CreateRenderTarget creates an in-memory color target.
func (d *Device) CreateRenderTarget(desc *gpucore.RenderTargetDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create render target"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Width == 0 || desc.Height == 0 || !supportedFormat(desc.Format) {
		return gpucore.InvalidID, fmt.Errorf("%w: render target %q %dx%d %v",
			ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height, desc.Format)
	}
	id := gpucore.TextureID(d.id())
	d.targets[id] = &target{
		label:  desc.Label,
		format: desc.Format,
		img:    image.NewRGBA(image.Rect(0, 0, int(desc.Width), int(desc.Height))),
	}
	return id, nil
}

// ReadRenderTarget returns a copy of the target contents.
func (d *Device) ReadRenderTarget(id gpucore.TextureID) (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("read render target"); err != nil {
		return nil, err
	}
	t, ok := d.targets[id]
	if !ok {
		return nil, fmt.Errorf("render target %d: %w", id, gpucore.ErrUnknownResource)
	}
	out := image.NewRGBA(t.img.Rect)
	copy(out.Pix, t.img.Pix)
	return out, nil
}

// DestroyRenderTarget releases a render target.
func (d *Device) DestroyRenderTarget(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.targets[id]; ok {
		t.destroyed = true
		delete(d.targets, id)
	}
}

// CreateCommandEncoder opens a recording.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("create command encoder"); err != nil {
		return nil, err
	}
	return &commandEncoder{dev: d, label: label}, nil
}

// Submit runs the command buffers in order.
func (d *Device) Submit(cmds ...gpucore.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked("submit"); err != nil {
		return err
	}
	if d.lostAfter > 0 && d.stats.Submits >= d.lostAfter {
		d.lost = errSimulatedLoss
		slogger().Warn("cpu: simulated device loss", "submits", d.stats.Submits)
		return &gpucore.DeviceLossError{Op: "submit", Err: errSimulatedLoss}
	}

	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return fmt.Errorf("%w: foreign command buffer", ErrInvalidDescriptor)
		}
		if cb.submitted {
			return fmt.Errorf("%w: command buffer %q already submitted", ErrInvalidDescriptor, cb.label)
		}
		cb.submitted = true
		if err := d.executeLocked(cb); err != nil {
			return fmt.Errorf("cpu: submit %q: %w", cb.label, err)
		}
	}
	d.stats.Submits++
	return nil
}

// WaitIdle returns immediately: Submit runs synchronously.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkLocked("wait idle")
}

// Destroy releases every resource and stops the worker pool.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	clear(d.buffers)
	clear(d.pipelines)
	clear(d.groups)
	clear(d.targets)
	d.pool.Close()
}
