// Package relay contains the routing core: the per-client session registry,
// the multiplexer that fans audio out and events back, and the client
// session plumbing around them.
package relay

import (
	"github.com/charmbracelet/log"

	"polyscribe/config"
	"polyscribe/upstream"
)

// AdapterFactory instantiates the adapter for one configured backend.
type AdapterFactory func(spec config.ModelSpec) (upstream.Adapter, error)

// Entry is one registered backend for the owning client session.
type Entry struct {
	ModelID string
	Adapter upstream.Adapter
}

// Registry owns the set of upstream adapters for exactly one client session.
// It is populated once at connect time and never mutated afterwards, so
// reads need no locking.
type Registry struct {
	entries map[string]*Entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// CreateAll iterates the configured model specs in order and records one
// adapter per spec before returning. A factory failure is logged and the
// spec skipped; it never blocks the remaining backends.
func (r *Registry) CreateAll(specs []config.ModelSpec, factory AdapterFactory, logger *log.Logger) {
	for _, spec := range specs {
		adapter, err := factory(spec)
		if err != nil {
			logger.Error("adapter creation failed", "platform", spec.ID, "err", err)
			continue
		}
		r.entries[spec.ID] = &Entry{ModelID: spec.ID, Adapter: adapter}
		r.order = append(r.order, spec.ID)
	}
}

// Get looks up the adapter for a model id.
func (r *Registry) Get(modelID string) (upstream.Adapter, bool) {
	entry, ok := r.entries[modelID]
	if !ok {
		return nil, false
	}
	return entry.Adapter, true
}

// ForEach visits every entry in registration order.
func (r *Registry) ForEach(fn func(*Entry)) {
	for _, id := range r.order {
		fn(r.entries[id])
	}
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.order)
}

// CloseAll closes every adapter. One adapter's close failure never prevents
// the others from being closed; the first error is returned after the full
// sweep.
func (r *Registry) CloseAll() error {
	var firstErr error
	for _, id := range r.order {
		if err := r.entries[id].Adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
