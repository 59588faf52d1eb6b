//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

type buffer struct {
	label string
	raw   hal.Buffer
	size  uint64
	usage gpucore.BufferUsage
}

// Device implements gpucore.Device using gogpu/wgpu/hal directly.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
// All resource maps are protected by a mutex. A single command encoder must
// be recorded from one goroutine.
type Device struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	// Set only when the device was opened by this package.
	instance hal.Instance
	owned    bool
	adapter  string

	limits       gputypes.Limits
	maxWorkgroup [3]uint32

	nextID atomic.Uint64

	buffers   map[gpucore.BufferID]*buffer
	pipelines map[gpucore.PipelineID]*pipeline
	groups    map[gpucore.BindGroupID]*bindGroup
	targets   map[gpucore.TextureID]*target

	// Command buffers submitted but not yet known to be complete.
	pending []pendingBuffer

	lost      error
	destroyed bool
	stats     Stats
}

type pendingBuffer struct {
	raw   hal.CommandBuffer
	index uint64
}

var _ gpucore.Device = (*Device)(nil)

// NewFromHAL wraps an existing HAL device and queue. The caller keeps
// ownership: Destroy releases the resources created through the returned
// Device but not the HAL device itself.
func NewFromHAL(device hal.Device, queue hal.Queue) *Device {
	return newDevice(device, queue, gputypes.DefaultLimits())
}

func newDevice(device hal.Device, queue hal.Queue, limits gputypes.Limits) *Device {
	d := &Device{
		device:       device,
		queue:        queue,
		limits:       limits,
		maxWorkgroup: [3]uint32{limits.MaxComputeWorkgroupSizeX, limits.MaxComputeWorkgroupSizeY, limits.MaxComputeWorkgroupSizeZ},
		buffers:      make(map[gpucore.BufferID]*buffer),
		pipelines:    make(map[gpucore.PipelineID]*pipeline),
		groups:       make(map[gpucore.BindGroupID]*bindGroup),
		targets:      make(map[gpucore.TextureID]*target),
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

// newID generates a unique resource ID.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns "native".
func (d *Device) Name() string { return "native" }

// AdapterName returns the name of the adapter the device was opened on, or
// an empty string for wrapped devices.
func (d *Device) AdapterName() string { return d.adapter }

// MaxWorkgroupSize returns the maximum workgroup size in each dimension.
func (d *Device) MaxWorkgroupSize() [3]uint32 { return d.maxWorkgroup }

// Stats returns a snapshot of the live resource counters.
func (d *Device) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := d.stats
	s.BuffersLive = len(d.buffers)
	s.PipelinesLive = len(d.pipelines)
	s.BindGroupsLive = len(d.groups)
	s.TargetsLive = len(d.targets)
	return s
}

// checkLocked returns the sticky device loss, if any. Must be called with mu held.
func (d *Device) checkLocked(op string) error {
	if d.lost != nil {
		return &gpucore.DeviceLossError{Op: op, Err: d.lost}
	}
	if d.destroyed {
		return &gpucore.DeviceLossError{Op: op, Err: ErrDestroyed}
	}
	return nil
}

func (d *Device) check(op string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.checkLocked(op)
}

// observe converts a HAL failure into a device loss when the HAL reports
// one. The loss is sticky: every later call fails with the same error.
func (d *Device) observe(op string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, hal.ErrDeviceLost) {
		return fmt.Errorf("native: %s: %w", op, err)
	}
	d.mu.Lock()
	if d.lost == nil {
		d.lost = err
		slogger().Warn("native: device lost", "op", op, "error", err)
	}
	d.mu.Unlock()
	return &gpucore.DeviceLossError{Op: op, Err: err}
}

// === Buffer Management ===

// CreateBuffer creates a GPU buffer holding desc.Contents followed by
// zeros. HAL allocations are not cleared, so every buffer gets one full
// upload.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if err := d.check("create buffer"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Size == 0 || desc.Size%4 != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q size %d is not a positive multiple of 4", ErrInvalidDescriptor, desc.Label, desc.Size)
	}
	if uint64(len(desc.Contents)) > desc.Size {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q contents exceed size", ErrInvalidDescriptor, desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize && d.limits.MaxBufferSize != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q size %d exceeds device limit %d", ErrInvalidDescriptor, desc.Label, desc.Size, d.limits.MaxBufferSize)
	}

	usage := desc.Usage | gpucore.BufferUsageCopyDst
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(usage),
	})
	if err != nil {
		return gpucore.InvalidID, d.observe("create buffer", err)
	}
	data := desc.Contents
	if uint64(len(data)) < desc.Size {
		data = make([]byte, desc.Size)
		copy(data, desc.Contents)
	}
	if err := d.queue.WriteBuffer(raw, 0, data); err != nil {
		d.device.DestroyBuffer(raw)
		return gpucore.InvalidID, d.observe("write buffer", err)
	}

	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{label: desc.Label, raw: raw, size: desc.Size, usage: usage}
	d.stats.BuffersCreated++
	d.mu.Unlock()

	slogger().Debug("native: buffer created", "label", desc.Label, "size", desc.Size, "usage", uint32(usage))
	return id, nil
}

func (d *Device) lookupBuffer(id gpucore.BufferID) (*buffer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	return b, nil
}

// WriteBuffer writes data to a buffer through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if err := d.check("write buffer"); err != nil {
		return err
	}
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("%w: write to %q at %d of %d bytes is not 4-byte aligned", ErrInvalidDescriptor, b.label, offset, len(data))
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write to %q overruns %d bytes", ErrInvalidDescriptor, b.label, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	return d.observe("write buffer", d.queue.WriteBuffer(b.raw, offset, data))
}

// ReadBuffer reads data from a buffer.
//
// Buffers created with BufferUsageMapRead are mapped directly. Any other
// buffer must carry BufferUsageCopySrc and is copied into a staging buffer
// first. Both paths wait for the queue to go idle.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	if err := d.check("read buffer"); err != nil {
		return nil, err
	}
	b, err := d.lookupBuffer(id)
	if err != nil {
		return nil, err
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("%w: read from %q overruns %d bytes", ErrInvalidDescriptor, b.label, b.size)
	}
	if size == 0 {
		return []byte{}, nil
	}

	if b.usage.Has(gpucore.BufferUsageMapRead) {
		if err := d.WaitIdle(); err != nil {
			return nil, err
		}
		return d.mapRead(b.raw, offset, size)
	}
	if !b.usage.Has(gpucore.BufferUsageCopySrc) {
		return nil, fmt.Errorf("%w: buffer %q is neither mappable nor a copy source", ErrInvalidDescriptor, b.label)
	}

	// Copy ranges must be 4-byte aligned; widen the range and trim after.
	start := offset &^ 3
	end := (offset + size + 3) &^ 3
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "staging-readback",
		Size:  end - start,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, d.observe("create staging buffer", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.encodeOnce("buffer-read", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(b.raw, staging, []hal.BufferCopy{
			{SrcOffset: start, DstOffset: 0, Size: end - start},
		})
	})
	if err != nil {
		return nil, err
	}
	out, err := d.mapRead(staging, 0, end-start)
	if err != nil {
		return nil, err
	}
	return out[offset-start : offset-start+size], nil
}

// mapRead copies size bytes out of a host-visible buffer.
func (d *Device) mapRead(raw hal.Buffer, offset, size uint64) ([]byte, error) {
	m, err := d.device.MapBuffer(raw, offset, size)
	if err != nil {
		return nil, d.observe("map buffer", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size)) //nolint:gosec // mapping covers [offset, offset+size)
	if err := d.device.UnmapBuffer(raw); err != nil {
		return nil, d.observe("unmap buffer", err)
	}
	return out, nil
}

// encodeOnce records a single-use command buffer, submits it, and waits for
// the queue to go idle.
func (d *Device) encodeOnce(label string, record func(hal.CommandEncoder)) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return d.observe("create command encoder", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return d.observe("begin encoding", err)
	}
	record(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return d.observe("end encoding", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	if _, err := d.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		return d.observe("submit", err)
	}
	return d.observe("wait idle", d.device.WaitIdle())
}

// DestroyBuffer releases a GPU buffer. Unknown IDs are ignored.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if ok {
		delete(d.buffers, id)
	}
	d.mu.Unlock()

	if ok {
		d.device.DestroyBuffer(b.raw)
	}
}

// === Synchronization ===

// WaitIdle blocks until all submitted work has completed and releases the
// command buffers that were waiting on it.
func (d *Device) WaitIdle() error {
	if err := d.check("wait idle"); err != nil {
		return err
	}
	if err := d.observe("wait idle", d.device.WaitIdle()); err != nil {
		return err
	}
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, p := range pending {
		d.device.FreeCommandBuffer(p.raw)
	}
	return nil
}

// reclaim frees command buffers whose submissions the queue reports as
// complete. Must be called with mu held.
func (d *Device) reclaimLocked() {
	done := d.queue.PollCompleted()
	kept := d.pending[:0]
	for _, p := range d.pending {
		if p.index <= done {
			d.device.FreeCommandBuffer(p.raw)
			continue
		}
		kept = append(kept, p)
	}
	d.pending = kept
}

// Destroy waits for the queue, releases every resource still owned by the
// device and, when the device was opened by Open, the HAL device itself.
// Destroy is idempotent.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	lost := d.lost != nil
	d.mu.Unlock()

	if !lost {
		if err := d.device.WaitIdle(); err != nil {
			slogger().Warn("native: wait idle during destroy", "error", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending {
		d.device.FreeCommandBuffer(p.raw)
	}
	d.pending = nil
	for id, g := range d.groups {
		d.device.DestroyBindGroup(g.raw)
		delete(d.groups, id)
	}
	for id, p := range d.pipelines {
		d.releasePipeline(p)
		delete(d.pipelines, id)
	}
	for id, t := range d.targets {
		d.releaseTarget(t)
		delete(d.targets, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.raw)
		delete(d.buffers, id)
	}
	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	slogger().Info("native: device destroyed", "adapter", d.adapter)
}

// === Type Conversion Helpers ===

// convertBufferUsage converts gpucore.BufferUsage to gputypes.BufferUsage.
func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if usage&gpucore.BufferUsageMapRead != 0 {
		result |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	return result
}
