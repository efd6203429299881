package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/wordtetris/pronounce/pkg/audio"
	"github.com/wordtetris/pronounce/pkg/provider/speech"
)

// ErrKindNotRegistered is returned by [Registry.Create] when no factory has
// been registered for the requested backend kind.
var ErrKindNotRegistered = errors.New("config: backend kind not registered")

// BackendFactory builds a speech backend from its config entry. Every backend
// plays through sink.
type BackendFactory func(entry BackendEntry, sink audio.Sink) (speech.Backend, error)

// Registry maps backend kinds to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[speech.Kind]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[speech.Kind]BackendFactory)}
}

// Register registers the factory for kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) Register(kind speech.Kind, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []speech.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]speech.Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Create instantiates a backend using the factory registered for entry.Kind.
// Returns [ErrKindNotRegistered] if no factory has been registered for it.
func (r *Registry) Create(entry BackendEntry, sink audio.Sink) (speech.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (backend %q)", ErrKindNotRegistered, entry.Kind, entry.Name)
	}
	b, err := factory(entry, sink)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", entry.Name, err)
	}
	return b, nil
}

// CreateAll instantiates every entry in order. It stops at the first error.
func (r *Registry) CreateAll(entries []BackendEntry, sink audio.Sink) ([]speech.Backend, error) {
	out := make([]speech.Backend, 0, len(entries))
	for _, e := range entries {
		b, err := r.Create(e, sink)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
