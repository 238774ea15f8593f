package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CommandRegistry manages command handlers by exact command id.
// It is the standalone implementation of Commands.
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewCommandRegistry creates an empty command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		handlers: make(map[string]CommandHandler),
	}
}

// Register binds a handler to a command id.
// Registering an id twice returns ErrCommandExists.
func (r *CommandRegistry) Register(id string, handler CommandHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("%w: %s", ErrCommandExists, id)
	}
	r.handlers[id] = handler
	return nil
}

// Unregister removes a command binding.
func (r *CommandRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; !exists {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	delete(r.handlers, id)
	return nil
}

// Execute runs the handler registered for id.
func (r *CommandRegistry) Execute(ctx context.Context, id string, args ...any) (any, error) {
	r.mu.RLock()
	handler, exists := r.handlers[id]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return handler(ctx, args...)
}

// Has returns true if a handler is registered for id.
func (r *CommandRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[id]
	return exists
}

// List returns all registered command ids, sorted.
func (r *CommandRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ensure CommandRegistry implements Commands.
var _ Commands = (*CommandRegistry)(nil)
