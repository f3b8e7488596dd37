package issuer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/othala/internal/apperr"
)

// Builder collects kind definitions at startup.
type Builder struct {
	defs []Definition
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// RegisterKind adds a definition. Problems surface from Build.
func (b *Builder) RegisterKind(def Definition) *Builder {
	b.defs = append(b.defs, def)
	return b
}

// Build checks every definition and freezes them into a Registry.
func (b *Builder) Build() (*Registry, error) {
	kinds := make(map[string]*Definition, len(b.defs))
	var errs []error
	for i := range b.defs {
		def := b.defs[i]
		if err := def.check(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := kinds[def.Kind]; dup {
			errs = append(errs, fmt.Errorf("issuer %q: registered twice", def.Kind))
			continue
		}
		if def.DisplayName == "" {
			def.DisplayName = def.ShortName()
		}
		kinds[def.Kind] = &def
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return newRegistry(kinds), nil
}

// MustBuild is Build for static definitions; it panics on error.
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("issuer: build registry: %v", err))
	}
	return r
}

// Registry is an immutable set of kinds.
type Registry struct {
	kinds map[string]*Definition
	names []string
}

func newRegistry(kinds map[string]*Definition) *Registry {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return &Registry{kinds: kinds, names: names}
}

// Resolve finds the kind whose qualified name equals name or ends with
// "."+name. Zero or several matches yield *apperr.InvalidIssuerKindError.
func (r *Registry) Resolve(name string) (*Definition, error) {
	name = strings.TrimSpace(name)
	var found *Definition
	count := 0
	for _, k := range r.names {
		if k == name || strings.HasSuffix(k, "."+name) {
			found = r.kinds[k]
			count++
		}
	}
	if count != 1 || name == "" {
		return nil, &apperr.InvalidIssuerKindError{Name: name, Count: count}
	}
	return found, nil
}

// Kinds returns every definition ordered by qualified name.
func (r *Registry) Kinds() []*Definition {
	out := make([]*Definition, 0, len(r.names))
	for _, k := range r.names {
		out = append(out, r.kinds[k])
	}
	return out
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int {
	return len(r.names)
}

// Restrict returns a registry holding only the named kinds, resolved the same
// way as Resolve. An empty list keeps everything.
func (r *Registry) Restrict(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	kinds := make(map[string]*Definition, len(names))
	var errs []error
	for _, n := range names {
		def, err := r.Resolve(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kinds[def.Kind] = def
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return newRegistry(kinds), nil
}
