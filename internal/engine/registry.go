package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps ladder ids to running engines. It is owned by the top-level
// coordinator and passed by handle; nothing looks engines up through global
// state.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers an engine under its ladder id.
func (r *Registry) Add(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := e.cfg.LadderID
	if _, exists := r.engines[id]; exists {
		return fmt.Errorf("ladder %q already registered", id)
	}
	r.engines[id] = e
	return nil
}

// Get returns the engine for a ladder id.
func (r *Registry) Get(id string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	return e, ok
}

// Remove drops an engine from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}

// IDs returns the registered ladder ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StopAll requests a stop on every registered engine.
func (r *Registry) StopAll(force bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.engines {
		e.RequestStop(force)
	}
}
