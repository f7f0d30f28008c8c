// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weftlabs/loom/internal/models"
)

// HandlerFunc executes one task. It receives the task's config payload and
// returns the result payload recorded on the task node.
type HandlerFunc func(ctx context.Context, config models.Payload) (models.Payload, error)

// Registry maps task types to their handlers.
type Registry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a task type.
func (r *Registry) Register(taskType string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler for task type %q already registered", taskType)
	}

	r.handlers[taskType] = fn
	return nil
}

// Get retrieves the handler for a task type.
func (r *Registry) Get(taskType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.handlers[taskType]
	if !exists {
		return nil, fmt.Errorf("no handler registered for task type %q", taskType)
	}

	return fn, nil
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	sort.Strings(types)
	return types
}
