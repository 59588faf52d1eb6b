package cpu

import (
	"math"
)

// params is struct Params of the compute kernels.
type params struct {
	gridSize float32
	dt       float32
	alpha    float32
	mode     uint32
}

func decodeParams(w []uint32) params {
	return params{
		gridSize: math.Float32frombits(w[0]),
		dt:       math.Float32frombits(w[1]),
		alpha:    math.Float32frombits(w[2]),
		mode:     w[3],
	}
}

// args are the resources of one dispatch. b is indexed by binding; b[0]
// is the uniform block.
type args struct {
	p params
	b [][]uint32
}

// kernelFunc runs one invocation at global id (x, y).
type kernelFunc func(a *args, x, y uint32)

// displayKernel is the only render kernel the device rasterizes.
const displayKernel = "render"

var mirrors = map[string]kernelFunc{
	"addsource":  addSource,
	"diffuse":    diffuse,
	"advect":     advect,
	"divergence": divergence,
	"pressure":   pressure,
	"gradient":   gradient,
	"boundary":   boundary,
}

func ld(w []uint32, i uint32) float32 { return math.Float32frombits(w[i]) }

func st(w []uint32, i uint32, v float32) { w[i] = math.Float32bits(v) }

// interior reports whether (x, y) is an interior cell of an n-cell grid.
func interior(x, y, n uint32) bool {
	return x >= 1 && y >= 1 && x <= n && y <= n
}

func addSource(a *args, x, y uint32) {
	n2 := uint32(a.p.gridSize) + 2
	if x >= n2 || y >= n2 {
		return
	}
	k := y*n2 + x
	st(a.b[5], k, ld(a.b[3], k)+a.p.dt*ld(a.b[1], k))
	st(a.b[6], k, ld(a.b[4], k)+a.p.dt*ld(a.b[2], k))
}

func diffuse(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if !interior(x, y, n) || (x+y)%2 != a.p.mode {
		return
	}
	k := y*n2 + x
	alpha := a.p.alpha
	c := 1 + 4*alpha
	for ch := range uint32(2) {
		x0, f := a.b[1+ch], a.b[3+ch]
		sum := ld(f, k-1) + ld(f, k+1) + ld(f, k-n2) + ld(f, k+n2)
		st(f, k, (ld(x0, k)+alpha*sum)/c)
	}
}

func advect(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if !interior(x, y, n) {
		return
	}
	k := y*n2 + x
	dt0 := a.p.dt * a.p.gridSize
	hi := a.p.gridSize + 0.5

	px := clamp32(float32(x)-dt0*ld(a.b[3], k), 0.5, hi)
	py := clamp32(float32(y)-dt0*ld(a.b[4], k), 0.5, hi)

	i0 := uint32(math.Floor(float64(px)))
	j0 := uint32(math.Floor(float64(py)))
	i1, j1 := i0+1, j0+1

	s1 := px - float32(i0)
	s0 := 1 - s1
	t1 := py - float32(j0)
	t0 := 1 - t1

	k00, k01 := j0*n2+i0, j1*n2+i0
	k10, k11 := j0*n2+i1, j1*n2+i1
	for ch := range uint32(2) {
		src, dst := a.b[1+ch], a.b[5+ch]
		v := s0*(t0*ld(src, k00)+t1*ld(src, k01)) + s1*(t0*ld(src, k10)+t1*ld(src, k11))
		st(dst, k, v)
	}
}

func divergence(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if !interior(x, y, n) {
		return
	}
	k := y*n2 + x
	h := 1 / a.p.gridSize
	u, v := a.b[1], a.b[2]
	st(a.b[4], k, -0.5*h*(ld(u, k+1)-ld(u, k-1)+ld(v, k+n2)-ld(v, k-n2)))
	st(a.b[3], k, 0)
}

func pressure(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if !interior(x, y, n) || (x+y)%2 != a.p.mode {
		return
	}
	k := y*n2 + x
	p, div := a.b[1], a.b[2]
	st(p, k, (ld(div, k)+ld(p, k-1)+ld(p, k+1)+ld(p, k-n2)+ld(p, k+n2))*0.25)
}

func gradient(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if !interior(x, y, n) {
		return
	}
	k := y*n2 + x
	scale := 0.5 * a.p.gridSize
	p, u, v := a.b[1], a.b[3], a.b[4]
	st(u, k, ld(u, k)-scale*(ld(p, k+1)-ld(p, k-1)))
	st(v, k, ld(v, k)-scale*(ld(p, k+n2)-ld(p, k-n2)))
}

func boundary(a *args, x, y uint32) {
	n := uint32(a.p.gridSize)
	n2 := n + 2
	if x >= n2 || y >= n2 {
		return
	}
	ghostI := x == 0 || x == n+1
	ghostJ := y == 0 || y == n+1
	if !ghostI && !ghostJ {
		return
	}
	ci := min(max(x, 1), n)
	cj := min(max(y, 1), n)
	k := y*n2 + x
	c := cj*n2 + ci
	bx := a.p.mode & 3
	by := (a.p.mode >> 2) & 3
	st(a.b[1], k, wallFactor(bx, ghostI, ghostJ)*ld(a.b[1], c))
	st(a.b[2], k, wallFactor(by, ghostI, ghostJ)*ld(a.b[2], c))
}

func wallFactor(b uint32, ghostI, ghostJ bool) float32 {
	s1, s2 := float32(1), float32(1)
	if b == 1 {
		s1 = -1
	}
	if b == 2 {
		s2 = -1
	}
	switch {
	case ghostI && ghostJ:
		return 0.5 * (s1 + s2)
	case ghostI:
		return s1
	default:
		return s2
	}
}

func clamp32(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
