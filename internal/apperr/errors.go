// Package apperr holds the error taxonomy shared by the issuing pipeline and its adapters.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Validation stages.
const (
	StageQuery   = "query"
	StageContext = "context"
)

// RequiredFieldError reports a required field absent from the input.
type RequiredFieldError struct {
	Path string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("%s: field required", e.Path)
}

// ExtraFieldError reports every field an object does not declare.
type ExtraFieldError struct {
	Path   string
	Fields []string
}

func (e *ExtraFieldError) Error() string {
	where := e.Path
	if where == "" {
		where = "(root)"
	}
	return fmt.Sprintf("%s: extra fields not permitted: %s", where, strings.Join(e.Fields, ", "))
}

// TypeConstraintError reports a value violating its field's type or constraint.
type TypeConstraintError struct {
	Path       string
	Constraint string
	Value      any
	Detail     string
}

func (e *TypeConstraintError) Error() string {
	where := e.Path
	if where == "" {
		where = "(root)"
	}
	msg := fmt.Sprintf("%s: %s constraint violated by %s", where, e.Constraint, formatValue(e.Value))
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func formatValue(v any) string {
	const limit = 64
	s := fmt.Sprintf("%#v", v)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// ValidationError aggregates every violation found while validating one value.
type ValidationError struct {
	Schema     string
	Stage      string
	Violations []error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s is not valid: %d violation(s)", e.Schema, e.Stage, len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("; ")
		b.WriteString(v.Error())
	}
	return b.String()
}

// Unwrap exposes each violation to errors.As and errors.Is.
func (e *ValidationError) Unwrap() []error {
	return e.Violations
}

// Paths returns the field path of every violation in order.
func (e *ValidationError) Paths() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		switch t := v.(type) {
		case *RequiredFieldError:
			out = append(out, t.Path)
		case *ExtraFieldError:
			for _, f := range t.Fields {
				out = append(out, joinPath(t.Path, f))
			}
		case *TypeConstraintError:
			out = append(out, t.Path)
		}
	}
	return out
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// MissingSchemaError is returned when a kind is registered without one of its schemas.
type MissingSchemaError struct {
	Kind   string
	Schema string
}

func (e *MissingSchemaError) Error() string {
	return fmt.Sprintf("issuer %q: %s schema is missing", e.Kind, e.Schema)
}

// MissingContextError is returned when rendering is attempted without a validated context.
type MissingContextError struct {
	Kind string
}

func (e *MissingContextError) Error() string {
	if e.Kind == "" {
		return "render: context is missing"
	}
	return fmt.Sprintf("render %s: context is missing", e.Kind)
}

// TemplateNotFoundError is returned when a template resolves to no existing resource.
type TemplateNotFoundError struct {
	Kind string
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q for issuer %q not found", e.Name, e.Kind)
}

// InvalidIssuerKindError is returned for an unknown kind (Count == 0) or an
// ambiguous short name (Count > 1).
type InvalidIssuerKindError struct {
	Name  string
	Count int
}

func (e *InvalidIssuerKindError) Error() string {
	if e.Count > 1 {
		return fmt.Sprintf("issuer name should be unique, found %d for %s", e.Count, e.Name)
	}
	return fmt.Sprintf("%s is not an allowed issuer", e.Name)
}

// Ambiguous reports whether the name matched more than one kind.
func (e *InvalidIssuerKindError) Ambiguous() bool {
	return e.Count > 1
}

// RenderError wraps an opaque failure of the compile or persist step.
type RenderError struct {
	Kind       string
	Identifier string
	Retryable  bool
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.Kind, e.Identifier, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a render failure eligible for retry.
func IsRetryable(err error) bool {
	var re *RenderError
	return errors.As(err, &re) && re.Retryable
}
