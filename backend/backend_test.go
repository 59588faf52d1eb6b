package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/fluid/gpucore"
)

// namedDevice is a device that only knows its name.
type namedDevice struct {
	gpucore.Device
	name string
}

func (d *namedDevice) Name() string { return d.name }

func register(t *testing.T, name string, factory Factory) {
	t.Helper()
	Register(name, factory)
	t.Cleanup(func() { Unregister(name) })
}

func ok(name string) Factory {
	return func() (gpucore.Device, error) { return &namedDevice{name: name}, nil }
}

func unavailable() (gpucore.Device, error) { return nil, ErrBackendNotAvailable }

func TestRegistryRegisterAndOpen(t *testing.T) {
	register(t, "test-a", ok("test-a"))

	if !IsRegistered("test-a") {
		t.Error("test-a should be registered")
	}
	dev, err := Open("test-a")
	if err != nil {
		t.Fatalf("Open(test-a) error = %v", err)
	}
	if dev.Name() != "test-a" {
		t.Errorf("Open(test-a).Name() = %q, want %q", dev.Name(), "test-a")
	}
}

func TestRegistryOpenUnregistered(t *testing.T) {
	if _, err := Open("nonexistent"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryOpenNilDevice(t *testing.T) {
	register(t, "test-nil", func() (gpucore.Device, error) { return nil, nil })
	if _, err := Open("test-nil"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(test-nil) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryAvailableSorted(t *testing.T) {
	register(t, "test-z", ok("test-z"))
	register(t, "test-b", ok("test-b"))

	available := Available()
	if !slices.IsSorted(available) {
		t.Errorf("Available() = %v, want sorted", available)
	}
	for _, name := range []string{"test-b", "test-z"} {
		if !slices.Contains(available, name) {
			t.Errorf("Available() = %v, missing %q", available, name)
		}
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	register(t, BackendCPU, ok(BackendCPU))
	register(t, "aaa", ok("aaa"))

	dev, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if dev.Name() != BackendCPU {
		t.Errorf("Default() = %q, want %q ahead of unprioritized backends", dev.Name(), BackendCPU)
	}

	register(t, BackendNative, ok(BackendNative))
	if dev, _ := Default(); dev.Name() != BackendNative {
		t.Errorf("Default() = %q, want %q", dev.Name(), BackendNative)
	}
}

func TestRegistryDefaultFallsBack(t *testing.T) {
	register(t, BackendNative, unavailable)
	register(t, BackendCPU, ok(BackendCPU))

	dev, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if dev.Name() != BackendCPU {
		t.Errorf("Default() = %q, want fallback to %q", dev.Name(), BackendCPU)
	}
}

func TestRegistryDefaultNoneAvailable(t *testing.T) {
	saved := Available()
	for _, name := range saved {
		registryMu.RLock()
		f := backends[name]
		registryMu.RUnlock()
		Unregister(name)
		t.Cleanup(func() { Register(name, f) })
	}
	register(t, "broken", unavailable)

	if _, err := Default(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("MustDefault() did not panic")
		}
	}()
	MustDefault()
}

func TestRegistryUnregister(t *testing.T) {
	Register("test-backend", ok("test-backend"))

	if !IsRegistered("test-backend") {
		t.Error("test-backend should be registered")
	}

	Unregister("test-backend")

	if IsRegistered("test-backend") {
		t.Error("test-backend should be unregistered")
	}
}
