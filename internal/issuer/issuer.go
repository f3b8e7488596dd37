// Package issuer turns validated queries into validated rendering contexts.
//
// Each document kind registers a Definition: a query schema, a stricter
// context schema, a pure deriver and optional template overrides. The pipeline
// is fixed: validate the query, derive, validate the derived context. Only a
// Context produced that way can reach the renderer.
package issuer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/schema"
)

// Metadata is the descriptive part of an artifact.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// DescribesMetadata is implemented per kind to describe a validated context.
type DescribesMetadata interface {
	Describe(c *Context) Metadata
}

// Deriver maps a validated query to a context value. Derive must be total over
// validated queries; an error means the query could not be bound to the kind's
// Go type, which is a programming error.
type Deriver interface {
	DescribesMetadata
	Derive(query map[string]any, id Identifier, createdAt time.Time) (any, error)
}

// DeriveFunc is the typed form of a deriver.
type DeriveFunc[Q, C any] func(q Q, id Identifier, createdAt time.Time) C

type typed[Q, C any] struct {
	derive   DeriveFunc[Q, C]
	describe func(C) Metadata
}

// Typed adapts a typed derive function and metadata description into a Deriver.
func Typed[Q, C any](derive DeriveFunc[Q, C], describe func(C) Metadata) Deriver {
	return typed[Q, C]{derive: derive, describe: describe}
}

func (t typed[Q, C]) Derive(query map[string]any, id Identifier, createdAt time.Time) (any, error) {
	q, err := schema.Bind[Q](query)
	if err != nil {
		return nil, err
	}
	return t.derive(q, id, createdAt), nil
}

func (t typed[Q, C]) Describe(c *Context) Metadata {
	if t.describe == nil || c == nil {
		return Metadata{}
	}
	v, ok := c.value.(C)
	if !ok {
		bound, err := schema.Bind[C](c.Values)
		if err != nil {
			return Metadata{}
		}
		v = bound
	}
	return t.describe(v)
}

// Definition describes one document kind.
type Definition struct {
	// Kind is the qualified name, e.g. "howard.invoice".
	Kind        string
	DisplayName string

	QuerySchema   *schema.Object
	ContextSchema *schema.Object

	// Optional template names overriding the naming convention.
	StructureTemplate string
	StyleTemplate     string

	Deriver Deriver
}

// ShortName is the last dot-separated segment of the kind.
func (d *Definition) ShortName() string {
	if i := strings.LastIndexByte(d.Kind, '.'); i >= 0 {
		return d.Kind[i+1:]
	}
	return d.Kind
}

func (d *Definition) check() error {
	if d.Kind == "" {
		return errors.New("issuer: kind name is empty")
	}
	var errs []error
	if d.QuerySchema == nil {
		errs = append(errs, &apperr.MissingSchemaError{Kind: d.Kind, Schema: apperr.StageQuery})
	}
	if d.ContextSchema == nil {
		errs = append(errs, &apperr.MissingSchemaError{Kind: d.Kind, Schema: apperr.StageContext})
	}
	if d.Deriver == nil {
		errs = append(errs, fmt.Errorf("issuer %q: deriver is missing", d.Kind))
	}
	return errors.Join(errs...)
}

// Context is a validated rendering context. It can only be obtained from
// Definition.Issue or Definition.Restore.
type Context struct {
	Kind        string
	DisplayName string
	Identifier  Identifier
	CreatedAt   time.Time

	// Values is the normalized context, as consumed by templates.
	Values map[string]any
	// Query is the normalized query the context was derived from, nil when restored.
	Query map[string]any

	value    any
	describe DescribesMetadata
}

// Validated reports whether c came out of the validation pipeline.
func (c *Context) Validated() bool {
	return c != nil && c.describe != nil && c.Values != nil
}

// Metadata describes the context through its kind.
func (c *Context) Metadata() Metadata {
	var md Metadata
	if c.describe != nil {
		md = c.describe.Describe(c)
	}
	if md.Title == "" {
		md.Title = c.DisplayName
	}
	return md
}

// Issue runs validate(query) → derive → validate(context).
func (d *Definition) Issue(rawQuery any, id Identifier, createdAt time.Time) (*Context, error) {
	if id.IsZero() {
		return nil, errNilIdentifier
	}
	query, err := schema.Validate(rawQuery, d.QuerySchema)
	if err != nil {
		return nil, stage(err, apperr.StageQuery)
	}

	derived, err := d.Deriver.Derive(query, id, createdAt)
	if err != nil {
		return nil, fmt.Errorf("issuer %s: derive: %w", d.Kind, err)
	}

	values, err := schema.Validate(derived, d.ContextSchema)
	if err != nil {
		return nil, stage(err, apperr.StageContext)
	}

	return &Context{
		Kind:        d.Kind,
		DisplayName: d.DisplayName,
		Identifier:  id,
		CreatedAt:   createdAt,
		Values:      values,
		Query:       query,
		value:       derived,
		describe:    d.Deriver,
	}, nil
}

// Restore re-validates a previously derived context, e.g. one read back from
// a request log, so it can be rendered again under the same identifier.
func (d *Definition) Restore(rawContext any, id Identifier, createdAt time.Time) (*Context, error) {
	if id.IsZero() {
		return nil, errNilIdentifier
	}
	values, err := schema.Validate(rawContext, d.ContextSchema)
	if err != nil {
		return nil, stage(err, apperr.StageContext)
	}
	return &Context{
		Kind:        d.Kind,
		DisplayName: d.DisplayName,
		Identifier:  id,
		CreatedAt:   createdAt,
		Values:      values,
		describe:    d.Deriver,
	}, nil
}

func stage(err error, name string) error {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		ve.Stage = name
	}
	return err
}
