package tools

import (
	"errors"
	"fmt"
)

// Registry holds the tools available to the engine, keyed by name. It is
// built once at startup and never mutated afterwards, so concurrent reads
// from request pipelines need no locking.
type Registry struct {
	handlers map[string]Handler
	order    []string
}

// NewRegistry builds a registry from the given handlers. Duplicate names are
// a wiring mistake and fail construction.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if h == nil {
			return nil, errors.New("nil tool handler")
		}
		name := h.Declaration().Name
		if name == "" {
			return nil, errors.New("tool with empty name")
		}
		if _, dup := r.handlers[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		r.handlers[name] = h
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup resolves a tool by name, wrapping ErrUnknownTool when absent.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownTool)
	}
	return h, nil
}

// Declarations returns every tool's declaration in registration order.
func (r *Registry) Declarations() []Declaration {
	decls := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.handlers[name].Declaration())
	}
	return decls
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.handlers)
}
