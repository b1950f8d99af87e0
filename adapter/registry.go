package adapter

import (
	"fmt"
	"sync"

	"goa.design/taskorchestrator/graph"
)

// Registry resolves (verb, task_type) to a Set, with a default Set used
// when no task-type-specific entry exists: a mutex-guarded multi-client
// registry with fallback resolution.
type Registry struct {
	mu       sync.RWMutex
	byType   map[graph.TaskType]Set
	fallback Set
}

// NewRegistry constructs an empty Registry. Register a fallback with
// SetFallback before first use, or every resolution for an unregistered
// task type will return a Set of all-nil adapters.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[graph.TaskType]Set)}
}

// Register associates a Set with a task type.
func (r *Registry) Register(taskType graph.TaskType, set Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[taskType] = set
}

// SetFallback installs the Set returned when no task-type-specific entry exists.
func (r *Registry) SetFallback(set Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = set
}

// Resolve returns the Set registered for taskType, falling back to the
// default Set, merging any nil field in the type-specific Set with the
// fallback's corresponding field.
func (r *Registry) Resolve(taskType graph.TaskType) Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byType[taskType]
	if !ok {
		return r.fallback
	}
	if set.Planner == nil {
		set.Planner = r.fallback.Planner
	}
	if set.Atomizer == nil {
		set.Atomizer = r.fallback.Atomizer
	}
	if set.Executor == nil {
		set.Executor = r.fallback.Executor
	}
	if set.Aggregator == nil {
		set.Aggregator = r.fallback.Aggregator
	}
	if set.PlanModifier == nil {
		set.PlanModifier = r.fallback.PlanModifier
	}
	return set
}

// ErrNoAdapter reports that a resolved Set is missing the capability a
// caller needed.
type ErrNoAdapter struct {
	TaskType graph.TaskType
	Verb     Verb
}

func (e *ErrNoAdapter) Error() string {
	return fmt.Sprintf("adapter: no %s adapter registered for task type %s", e.Verb, e.TaskType)
}
