package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler that receives the raw payload.
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload string) error

// Registry maps job type tags to type-erased handler functions.
// It is safe for concurrent use. New job types are additive registrations,
// never modifications to a shared dispatch function.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers a raw handler under a job type tag. The last
// registration for a tag wins.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Definition pairs a job type tag with a typed handler. The payload is
// JSON-decoded into T before the handler runs; a decode or validation
// failure surfaces as an ordinary job failure, not a system fault.
type Definition[T any] struct {
	Type    string
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition builds a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Type: jobType, Handler: handler}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler. An empty payload decodes to the zero T.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload string) error {
		var t T
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &t); err != nil {
				return fmt.Errorf("invalid payload for job type %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	return types
}
