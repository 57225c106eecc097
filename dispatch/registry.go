package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/talocan/hharvest/store"
)

// Handler executes one task type. Implementations decode their own
// params from task.Params() and must watch ctx for timeout and
// shutdown. The returned map becomes the task's result blob.
type Handler interface {
	Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error)

	// Name is the task type this handler serves.
	Name() string
}

// Registry routes task types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its name. Panics on a duplicate: two
// handlers claiming one task type is a wiring bug, not a runtime
// condition.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for task type: %s", name))
	}
	r.handlers[name] = h
}

// Get returns the handler for a task type.
func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Has reports whether a task type is registered.
func (r *Registry) Has(taskType string) bool {
	_, ok := r.Get(taskType)
	return ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
