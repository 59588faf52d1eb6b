package cpu

import (
	"errors"
	"fmt"
	"image/color"
	"math"
)

var errDestroyed = errors.New("cpu: command uses a destroyed resource")

func (d *Device) executeLocked(cb *commandBuffer) error {
	for i := range cb.commands {
		c := &cb.commands[i]
		if err := c.check(); err != nil {
			return err
		}
		var err error
		switch c.kind {
		case cmdDispatch:
			err = d.dispatchLocked(c)
		case cmdClear:
			clearTarget(c.target, c.clear.R, c.clear.G, c.clear.B, c.clear.A)
			d.stats.RenderPasses++
		case cmdDraw:
			err = d.drawLocked(c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *command) check() error {
	if c.pipeline != nil && c.pipeline.destroyed {
		return fmt.Errorf("%w: pipeline %q", errDestroyed, c.pipeline.label)
	}
	if c.target != nil && c.target.destroyed {
		return fmt.Errorf("%w: render target %q", errDestroyed, c.target.label)
	}
	if c.group != nil {
		if c.group.destroyed {
			return fmt.Errorf("%w: bind group %q", errDestroyed, c.group.label)
		}
		for _, b := range c.group.buffers {
			if b.destroyed {
				return fmt.Errorf("%w: buffer %q", errDestroyed, b.label)
			}
		}
	}
	return nil
}

func bindArgs(g *bindGroup) *args {
	a := &args{b: make([][]uint32, len(g.buffers))}
	for i, b := range g.buffers {
		a.b[i] = b.words
	}
	return a
}

func (d *Device) dispatchLocked(c *command) error {
	a := bindArgs(c.group)
	if len(a.b) == 0 || len(a.b[0]) < 4 {
		return fmt.Errorf("%w: pipeline %q has no parameter block", ErrInvalidDescriptor, c.pipeline.label)
	}
	a.p = decodeParams(a.b[0])

	wg := c.pipeline.workgroup
	sx := c.counts[0] * wg[0]
	sy := c.counts[1] * wg[1]
	sz := c.counts[2] * wg[2]
	fn := c.pipeline.compute
	err := d.pool.ForRange(int(sy), func(lo, hi int) {
		for y := uint32(lo); y < uint32(hi); y++ {
			for range sz {
				for x := range sx {
					fn(a, x, y)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", c.pipeline.label, err)
	}
	d.stats.Dispatches++
	d.stats.Invocations += uint64(sx) * uint64(sy) * uint64(sz)
	return nil
}

func unorm8(v float64) uint8 {
	return uint8(math.Round(min(max(v, 0), 1) * 255))
}

func clearTarget(t *target, r, g, b, a float64) {
	c := color.RGBA{R: unorm8(r), G: unorm8(g), B: unorm8(b), A: unorm8(a)}
	pix := t.img.Pix
	for i := 0; i+4 <= len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}
