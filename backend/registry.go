package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/fluid/gpucore"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	// Native > CPU (CPU is the fallback).
	backendPriority = []string{BackendNative, BackendCPU}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %q returned no device", ErrBackendNotAvailable, name)
	}
	return dev, nil
}

// Default opens a device from the best available backend.
// Priority order: native > cpu, then any other registered backend in
// name order. The errors of every backend that failed are joined when
// none succeeds.
func Default() (gpucore.Device, error) {
	names := Available()
	order := make([]string, 0, len(names))
	for _, name := range backendPriority {
		if slices.Contains(names, name) {
			order = append(order, name)
		}
	}
	for _, name := range names {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}

	var errs []error
	for _, name := range order {
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no backends registered", ErrBackendNotAvailable)
	}
	return nil, errors.Join(errs...)
}

// MustDefault returns the default device or panics.
func MustDefault() gpucore.Device {
	dev, err := Default()
	if err != nil {
		panic(err)
	}
	return dev
}
