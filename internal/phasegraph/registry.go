// Package phasegraph holds validated workflow definitions.
//
// Definitions are compiled once at registration. A definition that fails
// validation is a ConfigurationError and never reaches the engine.
package phasegraph

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a lookup of compiled workflow definitions. Registration
// happens at startup; after that the registry is read-only and safe for
// concurrent readers.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*WorkflowDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*WorkflowDefinition)}
}

// Register validates def and stores the compiled result.
func (r *Registry) Register(def WorkflowDefinition) error {
	compiled, err := def.Compile()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[compiled.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflow, compiled.ID)
	}
	r.defs[compiled.ID] = compiled
	return nil
}

// Get returns the compiled definition for id. Callers must not modify it.
func (r *Registry) Get(id string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return def, nil
}

// List returns registered workflow ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir reads every definition file in dir and registers it.
func (r *Registry) LoadDir(dir string) error {
	defs, err := LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
