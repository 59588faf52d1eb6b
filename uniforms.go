package fluid

import (
	"encoding/binary"
	"math"
)

// UniformSize is the byte size of the parameter block bound at slot 0.
const UniformSize = 16

// Uniforms is the parameter block bound at slot 0 of every compute kernel.
// Its layout matches the WGSL struct
//
//	struct Params { grid_size: f32, dt: f32, alpha: f32, mode: u32 }
type Uniforms struct {
	GridSize float32
	TimeStep float32

	// Alpha is the kernel-specific coefficient, e.g. dt * rate * N^2 for
	// a diffusion sweep.
	Alpha float32

	// Mode is the kernel-specific selector: the sweep color of a
	// relaxation kernel or the packed wall modes of the boundary kernel.
	Mode uint32
}

// Bytes encodes u in the little-endian layout of struct Params.
func (u Uniforms) Bytes() []byte {
	b := make([]byte, UniformSize)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(u.GridSize))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(u.TimeStep))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(u.Alpha))
	binary.LittleEndian.PutUint32(b[12:], u.Mode)
	return b
}

// baseUniforms returns the block shared by every stage of cfg.
func baseUniforms(cfg *Config) Uniforms {
	return Uniforms{GridSize: float32(cfg.GridSize), TimeStep: cfg.TimeStep}
}

// Wall modes of the boundary kernel, after Stam's set_bnd.
const (
	wallCopy       uint32 = 0 // scalar: ghost = neighbor
	wallVertical   uint32 = 1 // x velocity: negated across left/right walls
	wallHorizontal uint32 = 2 // y velocity: negated across top/bottom walls
)

// wallMode packs the wall modes of the x and y channels.
func wallMode(x, y uint32) uint32 {
	return x | y<<2
}

// Relaxation sweep colors.
const (
	sweepRed   uint32 = 0
	sweepBlack uint32 = 1
)

// float32Bytes encodes values little-endian.
func float32Bytes(values []float32) []byte {
	b := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// bytesFloat32 decodes a little-endian float32 slice.
func bytesFloat32(b []byte) []float32 {
	values := make([]float32, len(b)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return values
}
