//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Option configures Open.
type Option func(*options)

type options struct {
	backend    gputypes.Backend
	hasBackend bool
	limits     gputypes.Limits
}

// WithBackend opens the given HAL backend instead of the first usable
// hardware one. gputypes.BackendEmpty selects the noop backend. The backend package must be linked in, e.g. through
// github.com/gogpu/wgpu/hal/allbackends.
func WithBackend(b gputypes.Backend) Option {
	return func(o *options) {
		o.backend = b
		o.hasBackend = true
	}
}

// WithLimits requests device limits other than gputypes.DefaultLimits.
func WithLimits(l gputypes.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// hardwareBackends is the order in which Open tries HAL backends when none
// is selected. The noop backend is never picked implicitly.
var hardwareBackends = []gputypes.Backend{
	gputypes.BackendVulkan,
	gputypes.BackendMetal,
	gputypes.BackendDX12,
	gputypes.BackendGL,
}

// Open creates a standalone device on the most capable adapter of the
// selected HAL backend. Without WithBackend every linked hardware backend
// is tried in turn. Discrete GPUs are preferred over integrated ones.
// The returned Device owns the HAL device and instance.
func Open(opts ...Option) (*Device, error) {
	o := options{limits: gputypes.DefaultLimits()}
	for _, opt := range opts {
		opt(&o)
	}

	candidates := hardwareBackends
	if o.hasBackend {
		candidates = []gputypes.Backend{o.backend}
	}

	var errs []error
	for _, variant := range candidates {
		b, ok := hal.GetBackend(variant)
		if !ok {
			if o.hasBackend {
				errs = append(errs, fmt.Errorf("%s backend not registered", variant))
			}
			continue
		}
		d, err := openBackend(b, o.limits)
		if err == nil {
			return d, nil
		}
		slogger().Debug("native: backend unusable", "backend", variant.String(), "err", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no HAL backend linked", ErrNoGPU)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoGPU, errors.Join(errs...))
}

func openBackend(b hal.Backend, limits gputypes.Limits) (*Device, error) {
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: %s: create instance: %w", b.Variant(), err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: %s: no adapters", b.Variant())
	}
	selected := selectAdapter(adapters)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: %s: open device: %w", b.Variant(), err)
	}

	d := newDevice(openDev.Device, openDev.Queue, limits)
	d.instance = instance
	d.owned = true
	d.adapter = selected.Info.Name
	slogger().Info("native: device opened",
		"adapter", selected.Info.Name,
		"backend", selected.Info.Backend.String(),
		"type", selected.Info.DeviceType.String())
	return d, nil
}

// selectAdapter prefers a discrete GPU, then an integrated one, then the
// first adapter listed.
func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// NewFromProvider shares the GPU device of an external provider such as a
// gogpu window. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. The provider keeps
// ownership of the device.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHALProvider)
	}

	d := NewFromHAL(device, queue)
	d.adapter = provider.AdapterInfo().Name
	slogger().Info("native: using shared device", "adapter", d.adapter)
	return d, nil
}
