package provider

import "fmt"

// Constructor builds a Provider for one named backend kind (e.g. "local",
// "remote", "s3", "azure") from a root and optional keys.
type Constructor func(root string, keys KeyPolicy) (Provider, error)

// Registry is an explicit name-to-constructor map, populated at startup
// by internal/cli rather than through package-level init()
// registration. A global init-time registry makes every backend an
// unconditional import of the command package and is hard to reason
// about in tests; an instance callers construct and populate is not.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a named backend constructor. Registering the same name
// twice replaces the previous constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// New builds a Provider of the named kind.
func (r *Registry) New(name, root string, keys KeyPolicy) (Provider, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("provider: unknown backend %q", name)
	}
	return ctor(root, keys)
}

// Names returns the registered backend kinds.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}
