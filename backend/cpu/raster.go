package cpu

import (
	"fmt"
	"math"
)

// Display modes of the render kernel.
const (
	displayDensity uint32 = 0
	displayTracer  uint32 = 1
	displaySpeed   uint32 = 2
)

// drawLocked rasterizes the instanced cell quads of the display kernel.
//
// Instance i covers cell (i / N, i % N) with row 0 at the top. A pixel is
// covered by the quad that contains its center. Each quad is six
// vertices; draws with fewer vertices produce no fragments.
func (d *Device) drawLocked(c *command) error {
	a := bindArgs(c.group)
	if len(a.b) < 6 || len(a.b[0]) < 3 {
		return fmt.Errorf("%w: display pipeline %q bound %d buffers", ErrInvalidDescriptor, c.pipeline.label, len(a.b))
	}
	grid := math.Float32frombits(a.b[0][0])
	gain := math.Float32frombits(a.b[0][1])
	mode := a.b[0][2]
	n := uint32(grid)

	d.stats.Draws++
	d.stats.Instances += uint64(c.draw.InstanceCount)
	d.stats.LastDraw = c.draw
	if n == 0 || c.draw.VertexCount < 6 || c.draw.InstanceCount == 0 {
		return nil
	}

	img := c.target.img
	w, h := img.Rect.Dx(), img.Rect.Dy()
	first := uint64(c.draw.FirstInstance)
	last := first + uint64(c.draw.InstanceCount)
	lut := a.b[5]

	return d.pool.ForRange(h, func(lo, hi int) {
		for py := lo; py < hi; py++ {
			row := uint32((float64(py) + 0.5) * float64(n) / float64(h))
			for px := range w {
				col := uint32((float64(px) + 0.5) * float64(n) / float64(w))
				inst := uint64(row)*uint64(n) + uint64(col)
				if inst < first || inst >= last {
					continue
				}
				cell := (row+1)*(n+2) + col + 1
				packed := lut[lutIndex(sample(a, mode, cell)*gain)]
				o := img.PixOffset(img.Rect.Min.X+px, img.Rect.Min.Y+py)
				img.Pix[o+0] = uint8(packed)
				img.Pix[o+1] = uint8(packed >> 8)
				img.Pix[o+2] = uint8(packed >> 16)
				img.Pix[o+3] = uint8(packed >> 24)
			}
		}
	})
}

func sample(a *args, mode, cell uint32) float32 {
	switch mode {
	case displayTracer:
		return ld(a.b[2], cell)
	case displaySpeed:
		u, v := ld(a.b[3], cell), ld(a.b[4], cell)
		return float32(math.Sqrt(float64(u*u + v*v)))
	default:
		return ld(a.b[1], cell)
	}
}

// lutIndex mirrors u32(clamp(t, 0, 1) * 255) in the fragment stage.
func lutIndex(t float32) uint32 {
	if !(t > 0) {
		return 0
	}
	if t > 1 {
		t = 1
	}
	return uint32(t * 255)
}
