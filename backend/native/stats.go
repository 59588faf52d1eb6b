//go:build !nogpu

package native

// Stats counts device objects and recorded work.
type Stats struct {
	BuffersCreated    int
	PipelinesCreated  int
	BindGroupsCreated int
	TargetsCreated    int

	BuffersLive    int
	PipelinesLive  int
	BindGroupsLive int
	TargetsLive    int

	// Dispatches and Draws count commands in submitted command buffers.
	Dispatches uint64
	Draws      uint64
	Submits    uint64
}
