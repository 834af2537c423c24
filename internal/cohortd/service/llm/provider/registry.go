package provider

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
)

var (
	// ErrDuplicate is returned when a provider name is taken.
	ErrDuplicate = errors.New("provider already registered")
	// ErrUnknown is returned for a provider name nobody registered.
	ErrUnknown = errors.New("provider not registered")
)

// Registry maps provider names to plugin factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]spi.PluginFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]spi.PluginFactory{}}
}

// Register adds factory under name.
func (r *Registry) Register(name string, factory spi.PluginFactory) error {
	return r.add(map[string]spi.PluginFactory{name: factory})
}

// MustRegister is Register that panics on a duplicate name.
func (r *Registry) MustRegister(name string, factory spi.PluginFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Merge copies every factory of other into r. It is all or nothing: a single
// name clash leaves r untouched.
func (r *Registry) Merge(other *Registry) error {
	if other == nil || other == r {
		return nil
	}
	other.mu.RLock()
	incoming := maps.Clone(other.factories)
	other.mu.RUnlock()
	return r.add(incoming)
}

func (r *Registry) add(incoming map[string]spi.PluginFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range incoming {
		if _, taken := r.factories[name]; taken {
			return fmt.Errorf("%s: %w", name, ErrDuplicate)
		}
	}
	maps.Copy(r.factories, incoming)
	return nil
}

// Unregister removes name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknown)
	}
	delete(r.factories, name)
	return nil
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (spi.PluginFactory, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknown)
	}
	return factory, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}

// Range visits a snapshot of the registry in name order until fn returns
// false. fn may call back into r.
func (r *Registry) Range(fn func(name string, factory spi.PluginFactory) bool) {
	r.mu.RLock()
	snapshot := maps.Clone(r.factories)
	r.mu.RUnlock()
	for _, name := range slices.Sorted(maps.Keys(snapshot)) {
		if !fn(name, snapshot[name]) {
			return
		}
	}
}
