package factory

import (
	"fmt"

	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/opspec"
	"github.com/chiselcad/chisel/internal/scene"
)

// Registry maps operation kinds to their compiled schemas and constructs
// factories for them.
type Registry struct {
	specs map[string]*opspec.OpSpec
	kinds []string
}

// NewRegistry builds a registry from compiled operation schemas.
// Duplicate kinds are an error.
func NewRegistry(specs []opspec.OpSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*opspec.OpSpec, len(specs))}
	for i := range specs {
		s := &specs[i]
		if _, dup := r.specs[s.Kind]; dup {
			return nil, fmt.Errorf("duplicate operation kind %q", s.Kind)
		}
		r.specs[s.Kind] = s
		r.kinds = append(r.kinds, s.Kind)
	}
	return r, nil
}

// DefaultRegistry returns a registry over the built-in operation set.
func DefaultRegistry() (*Registry, error) {
	specs, err := opspec.Builtin()
	if err != nil {
		return nil, err
	}
	return NewRegistry(specs)
}

// Spec returns the schema for a kind.
func (r *Registry) Spec(kind string) (*opspec.OpSpec, bool) {
	s, ok := r.specs[kind]
	return s, ok
}

// Kinds returns the registered operation kinds in registration order.
func (r *Registry) Kinds() []string {
	out := make([]string, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// New constructs a factory for the given kind.
func (r *Registry) New(kind string, kernel geom.Kernel, store *scene.Store) (*KernelFactory, error) {
	spec, ok := r.specs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	return New(spec, kernel, store), nil
}
