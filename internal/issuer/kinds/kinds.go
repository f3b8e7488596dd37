// Package kinds holds the built-in document kinds.
package kinds

import (
	"github.com/starford/othala/internal/issuer"
)

// Builtin returns every built-in kind definition.
func Builtin() []issuer.Definition {
	return []issuer.Definition{
		Dummy(),
		Certificate(),
		Invoice(),
		Realisation(),
	}
}

// Registry builds a registry of the built-in kinds, optionally restricted to
// the enabled names.
func Registry(enabled []string) (*issuer.Registry, error) {
	b := issuer.NewBuilder()
	for _, def := range Builtin() {
		b.RegisterKind(def)
	}
	r, err := b.Build()
	if err != nil {
		return nil, err
	}
	return r.Restrict(enabled)
}
