package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// ErrModelNotRegistered is returned by [Registry.CreateLoader] when no
// factory has been registered under the requested backend name.
var ErrModelNotRegistered = errors.New("config: model backend not registered")

// ModelFactory builds a model loader from its configuration.
type ModelFactory func(ModelEntry) (transcribe.Loader, error)

// Registry maps speech model backend names to their factories. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]ModelFactory)}
}

// RegisterModel registers a factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterModel(name string, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = factory
}

// CreateLoader builds a loader using the factory registered under entry.Name.
// Returns [ErrModelNotRegistered] if no factory has been registered for that
// name.
func (r *Registry) CreateLoader(entry ModelEntry) (transcribe.Loader, error) {
	r.mu.RLock()
	factory, ok := r.models[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
