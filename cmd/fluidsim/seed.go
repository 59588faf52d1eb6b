package main

import (
	"math"

	"github.com/gogpu/fluid"
)

// seed places a density blob at the center of the grid, a tracer in the
// left half, and a source near the bottom that keeps pushing dye upward.
func seed(cfg *fluid.Config) fluid.InitialState {
	n := int(cfg.GridSize)
	p := int(cfg.PaddedDimension())
	size := cfg.BufferElementCount()

	s := fluid.InitialState{
		DensityX: make([]float32, size),
		DensityY: make([]float32, size),
		SourceDX: make([]float32, size),
		SourceVY: make([]float32, size),
	}

	blob := float64(n) / 8
	src := math.Max(1, float64(n)/16)
	cx := float64(n) / 2
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			k := (row+1)*p + col + 1
			x := float64(col) + 0.5 - cx
			y := float64(row) + 0.5 - cx
			s.DensityX[k] = float32(math.Exp(-(x*x + y*y) / (2 * blob * blob)))
			if col < n/2 {
				s.DensityY[k] = 1
			}

			sy := float64(row) + 0.5 - float64(n)*7/8
			w := math.Exp(-(x*x + sy*sy) / (2 * src * src))
			s.SourceDX[k] = float32(w)
			// Rows grow downward, so upward flow is negative.
			s.SourceVY[k] = float32(-float64(n) / 4 * w)
		}
	}
	return s
}
