package fluid

import (
	"encoding/binary"
	"errors"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColormapSize is the number of entries in a colormap lookup table.
const ColormapSize = 256

// Colormap maps a normalized scalar in [0, 1] to a color through a
// 256-entry lookup table shared with the display kernel.
type Colormap struct {
	lut [ColormapSize]uint32
}

// defaultStops run from black through deep blue and teal to yellow.
var defaultStops = []string{"#000000", "#1b3b6f", "#21918c", "#fde725"}

// DefaultColormap returns a perceptual ramp that starts at black, so an
// empty cell blends with the default background.
func DefaultColormap() Colormap {
	stops := make([]color.Color, len(defaultStops))
	for i, h := range defaultStops {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(err)
		}
		stops[i] = c
	}
	cm, err := NewColormap(stops...)
	if err != nil {
		panic(err)
	}
	return cm
}

// GrayscaleColormap returns a linear black to white ramp.
func GrayscaleColormap() Colormap {
	var cm Colormap
	for i := range cm.lut {
		v := uint8(i)
		cm.lut[i] = pack(color.RGBA{R: v, G: v, B: v, A: 0xff})
	}
	return cm
}

// NewColormap builds a colormap from at least two evenly spaced stops.
// Neighboring stops are blended in HCL space; the first and last entries
// are the end stops exactly.
func NewColormap(stops ...color.Color) (Colormap, error) {
	if len(stops) < 2 {
		return Colormap{}, errors.New("fluid: colormap needs at least two stops")
	}
	cs := make([]colorful.Color, len(stops))
	for i, s := range stops {
		c, ok := colorful.MakeColor(s)
		if !ok {
			return Colormap{}, errors.New("fluid: colormap stop is fully transparent")
		}
		cs[i] = c
	}

	var cm Colormap
	segments := float64(len(cs) - 1)
	for i := range cm.lut {
		t := float64(i) / (ColormapSize - 1) * segments
		k := int(math.Floor(t))
		if k >= len(cs)-1 {
			k = len(cs) - 2
		}
		c := cs[k].BlendHcl(cs[k+1], t-float64(k)).Clamped()
		cm.lut[i] = packColorful(c)
	}
	cm.lut[0] = packColorful(cs[0])
	cm.lut[ColormapSize-1] = packColorful(cs[len(cs)-1])
	return cm, nil
}

func packColorful(c colorful.Color) uint32 {
	r, g, b := c.RGB255()
	return pack(color.RGBA{R: r, G: g, B: b, A: 0xff})
}

// pack stores c as little-endian RGBA8, the layout the kernel unpacks.
func pack(c color.RGBA) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

func unpack(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: uint8(v >> 24)}
}

// LUT returns the packed lookup table.
func (c Colormap) LUT() [ColormapSize]uint32 { return c.lut }

// At returns the color of t, clamped to [0, 1]. It selects entries the
// same way the display kernel does.
func (c Colormap) At(t float64) color.RGBA {
	if !(t > 0) {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return unpack(c.lut[int(t*(ColormapSize-1))])
}

// Bytes encodes the table for upload.
func (c Colormap) Bytes() []byte {
	b := make([]byte, ColormapSize*4)
	for i, v := range c.lut {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}
