package cpu

// Option configures a Device.
type Option func(*options)

type options struct {
	workers   int
	lostAfter int
}

// WithWorkers sets the number of goroutines a dispatch is split across.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLostAfter makes the device report a device loss on the submit that
// follows n successful ones. Every call after that fails with
// gpucore.ErrDeviceLost. Zero disables the simulation.
func WithLostAfter(n int) Option {
	return func(o *options) {
		o.lostAfter = n
	}
}
