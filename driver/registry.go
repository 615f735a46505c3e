package driver

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Backend name constants.
const (
	// NameVulkan is the native Vulkan backend (pure Go bindings).
	NameVulkan = "vulkan"
	// NameSoft is the in-process simulated GPU.
	NameSoft = "soft"
)

// Factory opens a driver instance.
type Factory func(cfg *Config) (Instance, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for OpenDefault (first that opens wins).
	// Vulkan > Soft (Soft is the headless fallback).
	priority = []string{NameVulkan, NameSoft}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the named backend.
func Open(name string, cfg *Config) (Instance, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotAvailable, "backend %q", name)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	inst, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", name)
	}
	return inst, nil
}

// OpenDefault opens the best available backend based on priority.
// Backends that fail to open are skipped; the last failure is returned
// when none opens.
func OpenDefault(cfg *Config) (Instance, error) {
	registryMu.RLock()
	candidates := make([]string, 0, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			candidates = append(candidates, name)
		}
	}
	// Fallback: any other registered backend, in name order.
	var rest []string
	for name := range factories {
		if !contains(priority, name) {
			rest = append(rest, name)
		}
	}
	registryMu.RUnlock()
	sort.Strings(rest)
	candidates = append(candidates, rest...)

	lastErr := ErrNotAvailable
	for _, name := range candidates {
		inst, err := Open(name, cfg)
		if err == nil {
			return inst, nil
		}
		if cfg != nil && cfg.Logger != nil {
			cfg.Logger.Warn("driver: backend unavailable", "backend", name, "err", err)
		}
		lastErr = err
	}
	return nil, lastErr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
