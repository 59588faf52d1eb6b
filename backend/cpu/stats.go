package cpu

import (
	"encoding/binary"
)

// DrawCall records the arguments of one draw.
type DrawCall struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// Stats counts device objects and executed work.
type Stats struct {
	BuffersCreated    int
	BuffersLive       int
	PipelinesCreated  int
	PipelinesLive     int
	BindGroupsCreated int
	BindGroupsLive    int

	// Dispatches counts executed dispatches; Invocations counts the
	// kernel invocations they ran, including guarded ones.
	Dispatches  int
	Invocations uint64

	Draws     int
	Instances uint64
	LastDraw  DrawCall

	RenderPasses int
	Submits      int
}

func putBytes(words []uint32, at uint64, data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		words[at+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
}

func getBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
