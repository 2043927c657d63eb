package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/camrec/gpucore"
)

// Backend names.
const (
	// NameSoftware is the CPU reference backend.
	NameSoftware = "software"
	// NameWGPU is the Pure Go GPU backend built on gogpu/wgpu.
	NameWGPU = "wgpu"
)

// ErrBackendNotAvailable is returned when the requested backend, or any
// backend at all, is not registered.
var ErrBackendNotAvailable = errors.New("backend: no backend available")

// priority lists the preferred backends, best first.
var priority = []string{NameWGPU, NameSoftware}

var (
	registryMu sync.RWMutex
	backends   = make(map[string]gpucore.Factory)
)

// Register makes a factory available under name, replacing any previous
// one. Backend packages call it from init.
func Register(name string, factory gpucore.Factory) {
	registryMu.Lock()
	backends[name] = factory
	registryMu.Unlock()
}

// Unregister removes the named backend.
func Unregister(name string) {
	registryMu.Lock()
	delete(backends, name)
	registryMu.Unlock()
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Get returns the factory registered under name, or nil.
func Get(name string) gpucore.Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return backends[name]
}

// Default returns the highest priority registered factory. Backends
// outside the priority list come after it in name order. It returns nil
// on an empty registry.
func Default() gpucore.Factory {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range priority {
		if f, ok := backends[name]; ok {
			return f
		}
	}
	if names := availableLocked(); len(names) > 0 {
		return backends[names[0]]
	}
	return nil
}

// Lookup returns the named factory, or Default when name is empty.
func Lookup(name string) (gpucore.Factory, error) {
	if name == "" {
		if f := Default(); f != nil {
			return f, nil
		}
		return nil, ErrBackendNotAvailable
	}
	if f := Get(name); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
}

// Open creates a context from Lookup(name).
func Open(name string) (gpucore.Context, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f()
}
