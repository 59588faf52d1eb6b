//go:build !nogpu

package native

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/fluid/backend"
	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func TestOpenNoopBackend(t *testing.T) {
	d, err := Open(WithBackend(gputypes.BackendEmpty), WithLimits(gputypes.DefaultLimits()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Destroy()

	if d.Name() != "native" {
		t.Errorf("Name() = %q, want %q", d.Name(), "native")
	}
	if d.AdapterName() != "Noop Adapter" {
		t.Errorf("AdapterName() = %q, want %q", d.AdapterName(), "Noop Adapter")
	}
	if got := d.MaxWorkgroupSize(); got != [3]uint32{256, 256, 64} {
		t.Errorf("MaxWorkgroupSize() = %v, want [256 256 64]", got)
	}
}

func TestOpenUnregisteredBackend(t *testing.T) {
	// No DX12 backend is linked into the test binary.
	_, err := Open(WithBackend(gputypes.BackendDX12))
	if !errors.Is(err, ErrNoGPU) {
		t.Errorf("Open(DX12) = %v, want ErrNoGPU", err)
	}
}

func TestSelectAdapter(t *testing.T) {
	adapter := func(name string, typ gputypes.DeviceType) hal.ExposedAdapter {
		return hal.ExposedAdapter{Info: gputypes.AdapterInfo{Name: name, DeviceType: typ}}
	}

	tests := []struct {
		name     string
		adapters []hal.ExposedAdapter
		want     string
	}{
		{"single", []hal.ExposedAdapter{adapter("cpu", gputypes.DeviceTypeCPU)}, "cpu"},
		{"discrete wins", []hal.ExposedAdapter{
			adapter("cpu", gputypes.DeviceTypeCPU),
			adapter("igpu", gputypes.DeviceTypeIntegratedGPU),
			adapter("dgpu", gputypes.DeviceTypeDiscreteGPU),
		}, "dgpu"},
		{"integrated over cpu", []hal.ExposedAdapter{
			adapter("cpu", gputypes.DeviceTypeCPU),
			adapter("igpu", gputypes.DeviceTypeIntegratedGPU),
		}, "igpu"},
		{"first of equals", []hal.ExposedAdapter{
			adapter("a", gputypes.DeviceTypeOther),
			adapter("b", gputypes.DeviceTypeOther),
		}, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectAdapter(tt.adapters).Info.Name; got != tt.want {
				t.Errorf("selectAdapter = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeProvider is a gpucontext.DeviceProvider without HAL access.
type fakeProvider struct{}

func (fakeProvider) Device() gpucontext.Device             { return nil }
func (fakeProvider) Queue() gpucontext.Queue               { return nil }
func (fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (fakeProvider) Adapter() gpucontext.Adapter           { return nil }

func (fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "shared", Type: gpucontext.AdapterTypeDiscrete}
}

// halFakeProvider also exposes HAL objects, like a gogpu window does.
type halFakeProvider struct {
	fakeProvider
	device any
	queue  any
}

func (p halFakeProvider) HalDevice() any { return p.device }
func (p halFakeProvider) HalQueue() any  { return p.queue }

func TestNewFromProvider(t *testing.T) {
	device, queue := openNoop(t)

	d, err := NewFromProvider(halFakeProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("NewFromProvider failed: %v", err)
	}
	if d.AdapterName() != "shared" {
		t.Errorf("AdapterName() = %q, want %q", d.AdapterName(), "shared")
	}
	// A shared device is not destroyed with the wrapper.
	d.Destroy()
	if _, err := device.CreateBuffer(&hal.BufferDescriptor{Label: "still alive", Size: 4}); err != nil {
		t.Errorf("HAL device unusable after Destroy: %v", err)
	}
}

func TestNewFromProviderErrors(t *testing.T) {
	device, _ := openNoop(t)

	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
	}{
		{"no HAL access", fakeProvider{}},
		{"wrong device type", halFakeProvider{device: "gpu", queue: nil}},
		{"missing queue", halFakeProvider{device: device, queue: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromProvider(tt.provider); !errors.Is(err, ErrNoHALProvider) {
				t.Errorf("NewFromProvider = %v, want ErrNoHALProvider", err)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendNative) {
		t.Errorf("backend %q is not registered", backend.BackendNative)
	}
}

func TestSetLogger(t *testing.T) {
	d := newTestDevice(t)
	var buf bytes.Buffer
	d.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { d.SetLogger(nil) })

	if _, err := d.CreateRenderTarget(&gpucore.RenderTargetDesc{Label: "logged", Width: 2, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm}); err != nil {
		t.Fatalf("CreateRenderTarget failed: %v", err)
	}
	if !strings.Contains(buf.String(), "label=logged") {
		t.Errorf("log output %q does not mention the target", buf.String())
	}

	d.SetLogger(nil)
	buf.Reset()
	if _, err := d.CreateRenderTarget(&gpucore.RenderTargetDesc{Label: "quiet", Width: 2, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm}); err != nil {
		t.Fatalf("CreateRenderTarget failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nil logger wrote %q", buf.String())
	}
}
