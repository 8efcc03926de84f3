package tools

import (
	"fmt"
	"sort"
	"sync"

	"aegis/internal/aerr"
	"aegis/internal/logging"

	"go.uber.org/zap"
)

// Registry holds the available tools. Thread-safe; supports registration
// at runtime.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Descriptor
	byCategory map[Category][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]Descriptor),
		byCategory: make(map[Category][]string),
	}
}

// Register adds a tool. Re-registering a name is a ConflictingState error.
func (r *Registry) Register(d Descriptor) error {
	const op = "tools.Register"
	if d.Name == "" {
		return aerr.E(aerr.KindValidation, op, "tool name cannot be empty")
	}
	if d.Execute == nil {
		return aerr.E(aerr.KindValidation, op, "tool execute function cannot be nil")
	}
	if d.Category == "" {
		d.Category = CategoryGeneral
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return aerr.Errorf(aerr.KindConflictingState, op, "tool already registered: %s", d.Name)
	}
	r.tools[d.Name] = d
	r.byCategory[d.Category] = append(r.byCategory[d.Category], d.Name)

	logging.Get(logging.CategoryTools).Debug("registered tool",
		zap.String("name", d.Name), zap.String("category", string(d.Category)))
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", d.Name, err))
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, aerr.Errorf(aerr.KindNotFound, "tools.Get", "tool not found: %s", name)
	}
	return d, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns descriptors, optionally restricted to one category, sorted
// by name.
func (r *Registry) List(category Category) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if category == "" {
		for n := range r.tools {
			names = append(names, n)
		}
	} else {
		names = append(names, r.byCategory[category]...)
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n])
	}
	return out
}

// ValidateArgs checks args against the schema's required list.
func (d Descriptor) ValidateArgs(args map[string]any) error {
	for _, req := range d.ArgsSchema.Required {
		if _, ok := args[req]; !ok {
			return aerr.Errorf(aerr.KindValidation, "tools.ValidateArgs",
				"%s: missing required argument %q", d.Name, req)
		}
	}
	return nil
}
