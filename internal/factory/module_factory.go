package factory

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"NetflowAnalyzer/internal/metrics"
	"NetflowAnalyzer/internal/model"
)

// Env carries the process-wide collaborators a module may use.
type Env struct {
	Logger   *slog.Logger
	Notifier model.Notifier   // nil when no notifier is configured
	Metrics  *metrics.Metrics // nil when metrics are disabled
}

// ModuleFactory builds a module from its descriptor.
type ModuleFactory func(desc model.ModuleDescriptor, env Env) (model.Module, error)

var (
	mu sync.RWMutex
	// registry holds the mapping of module types to their factory functions.
	registry = make(map[string]ModuleFactory)
)

// RegisterModule registers a module type with its factory function.
// It panics on duplicate registration.
func RegisterModule(name string, factory ModuleFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("module type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create builds the module described by desc.
func Create(desc model.ModuleDescriptor, env Env) (model.Module, error) {
	mu.RLock()
	factory, ok := registry[desc.ModuleType()]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown module type: '%s'", desc.ModuleType())
	}

	mod, err := factory(desc, env)
	if err != nil {
		return nil, fmt.Errorf("error creating module '%s': %w", desc.Name, err)
	}
	return mod, nil
}

// Types lists the registered module types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
