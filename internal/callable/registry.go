// Package callable resolves the serializable callable references used in
// definition documents into first-class engine functions. Closures never
// cross the persistence boundary: documents carry either a registered
// callable name or an expression source compiled at load time.
package callable

import (
	"fmt"
	"sync"

	"github.com/procflow/procflow/internal/engine"
)

// Registry maps names to work and condition functions. Definitions
// reference entries by name through the work_fn and condition_fn fields.
type Registry struct {
	mu         sync.RWMutex
	work       map[string]engine.WorkFunc
	conditions map[string]engine.ConditionFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		work:       make(map[string]engine.WorkFunc),
		conditions: make(map[string]engine.ConditionFunc),
	}
}

// RegisterWork registers a work function under a name.
func (r *Registry) RegisterWork(name string, fn engine.WorkFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.work[name]; exists {
		return fmt.Errorf("work function %q already registered", name)
	}
	r.work[name] = fn
	return nil
}

// RegisterCondition registers a condition function under a name.
func (r *Registry) RegisterCondition(name string, fn engine.ConditionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[name]; exists {
		return fmt.Errorf("condition function %q already registered", name)
	}
	r.conditions[name] = fn
	return nil
}

// Work returns the work function registered under name.
func (r *Registry) Work(name string) (engine.WorkFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.work[name]
	if !ok {
		return nil, fmt.Errorf("work function %q not found", name)
	}
	return fn, nil
}

// Condition returns the condition function registered under name.
func (r *Registry) Condition(name string) (engine.ConditionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.conditions[name]
	if !ok {
		return nil, fmt.Errorf("condition function %q not found", name)
	}
	return fn, nil
}
