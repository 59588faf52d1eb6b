//go:build !nogpu

package native

import (
	"fmt"
	"image"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// WebGPU (and DX12) requires BytesPerRow aligned to 256 bytes.
const copyPitchAlignment = 256

type target struct {
	label  string
	tex    hal.Texture // nil for imported views
	view   hal.TextureView
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

func (t *target) imported() bool { return t.tex == nil }

func supportedTargetFormat(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatRGBA8Unorm || f == gputypes.TextureFormatBGRA8Unorm
}

// CreateRenderTarget creates an offscreen color texture that can be
// rendered to and read back.
func (d *Device) CreateRenderTarget(desc *gpucore.RenderTargetDesc) (gpucore.TextureID, error) {
	if err := d.check("create render target"); err != nil {
		return gpucore.InvalidID, err
	}
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: render target %q is %dx%d", ErrInvalidDescriptor, desc.Label, desc.Width, desc.Height)
	}
	if !supportedTargetFormat(desc.Format) {
		return gpucore.InvalidID, fmt.Errorf("%w: render target %q format %v", ErrUnsupportedFormat, desc.Label, desc.Format)
	}
	if max2D := d.limits.MaxTextureDimension2D; max2D != 0 && (desc.Width > max2D || desc.Height > max2D) {
		return gpucore.InvalidID, fmt.Errorf("%w: render target %q exceeds %d pixels per side", ErrInvalidDescriptor, desc.Label, max2D)
	}

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return gpucore.InvalidID, d.observe(fmt.Sprintf("create texture %q", desc.Label), err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, d.observe(fmt.Sprintf("create texture view %q", desc.Label), err)
	}

	id := d.storeTarget(&target{
		label:  desc.Label,
		tex:    tex,
		view:   view,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
	})
	slogger().Debug("native: render target created", "label", desc.Label, "width", desc.Width, "height", desc.Height)
	return id, nil
}

// ImportTextureView registers a view owned by the caller, typically a
// surface texture acquired for the current frame, so that render passes
// can target it. The view cannot be read back, and DestroyRenderTarget
// only forgets it.
func (d *Device) ImportTextureView(view hal.TextureView, width, height uint32, format gputypes.TextureFormat) gpucore.TextureID {
	return d.storeTarget(&target{
		label:  "imported",
		view:   view,
		width:  width,
		height: height,
		format: format,
	})
}

func (d *Device) storeTarget(t *target) gpucore.TextureID {
	id := gpucore.TextureID(d.newID())
	d.mu.Lock()
	d.targets[id] = t
	d.stats.TargetsCreated++
	d.mu.Unlock()
	return id
}

func (d *Device) releaseTarget(t *target) {
	if t.imported() {
		return
	}
	d.device.DestroyTextureView(t.view)
	d.device.DestroyTexture(t.tex)
}

// DestroyRenderTarget releases a render target created by
// CreateRenderTarget or forgets one registered by ImportTextureView.
func (d *Device) DestroyRenderTarget(id gpucore.TextureID) {
	d.mu.Lock()
	t, ok := d.targets[id]
	if ok {
		delete(d.targets, id)
	}
	d.mu.Unlock()

	if ok {
		d.releaseTarget(t)
	}
}

// ReadRenderTarget copies the target into a staging buffer, waits for the
// queue, and returns the pixels in RGBA order.
func (d *Device) ReadRenderTarget(id gpucore.TextureID) (*image.RGBA, error) {
	if err := d.check("read render target"); err != nil {
		return nil, err
	}
	d.mu.RLock()
	t, ok := d.targets[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("render target %d: %w", id, gpucore.ErrUnknownResource)
	}
	if t.imported() {
		return nil, fmt.Errorf("%w: render target %q is an imported view", ErrNotReadable, t.label)
	}

	w, h := t.width, t.height
	bytesPerRow := w * 4
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(h)

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: t.label + "_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, d.observe("create staging buffer", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.encodeOnce(t.label+"_readback", func(enc hal.CommandEncoder) {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
		enc.CopyTextureToBuffer(t.tex, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: h},
			TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		}})
		// Back to RenderAttachment so the next render pass starts from
		// the state it expects.
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
	})
	if err != nil {
		return nil, err
	}

	readback, err := d.mapRead(staging, 0, stagingSize)
	if err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	unpackRows(img.Pix, readback, int(bytesPerRow), int(alignedBytesPerRow), int(h), t.format == gputypes.TextureFormatBGRA8Unorm)
	return img, nil
}

// unpackRows strips per-row padding and swaps BGRA to RGBA when asked.
func unpackRows(dst, src []byte, rowBytes, pitch, rows int, swapBGRA bool) {
	for row := 0; row < rows; row++ {
		out := dst[row*rowBytes : (row+1)*rowBytes]
		copy(out, src[row*pitch:row*pitch+rowBytes])
		if !swapBGRA {
			continue
		}
		for i := 0; i < rowBytes; i += 4 {
			out[i], out[i+2] = out[i+2], out[i]
		}
	}
}
