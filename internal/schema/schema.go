// Package schema describes document shapes as explicit field lists and validates
// raw input against them.
//
// A schema is plain data: an Object holds ordered Fields, each with a Type.
// One generic walker interprets it, so the same descriptor drives validation,
// defaults and the documentation exposed to tool clients.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the primitive or composite shape of a Type.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInteger
	KindBoolean
	KindDecimal
	KindEnum
	KindDate
	KindDateTime
	KindFlexibleDate
	KindUUID
	KindObject
	KindOneOf
	KindEither
)

var kindNames = map[Kind]string{
	KindString:       "string",
	KindInteger:      "integer",
	KindBoolean:      "boolean",
	KindDecimal:      "decimal",
	KindEnum:         "enum",
	KindDate:         "date",
	KindDateTime:     "datetime",
	KindFlexibleDate: "date",
	KindUUID:         "uuid",
	KindObject:       "object",
	KindOneOf:        "one_of",
	KindEither:       "any_of",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is a tagged type descriptor. Only the fields relevant to Kind are read.
type Type struct {
	Kind Kind

	MinLength   int
	MaxLength   int
	Pattern     *regexp.Regexp
	PatternName string

	Min *int64
	Max *int64

	Enum []string

	Object       *Object
	Variants     []*Object
	Alternatives []*Type
}

// Field is one named entry of an Object.
type Field struct {
	Name     string
	Type     *Type
	Required bool

	Default    any
	hasDefault bool
}

// HasDefault reports whether the field carries a default value.
func (f Field) HasDefault() bool {
	return f.hasDefault
}

// Object is an ordered list of fields. A strict object rejects undeclared keys.
type Object struct {
	Name   string
	Fields []Field
	Strict bool
}

// NewObject returns an object that silently drops undeclared keys.
func NewObject(name string, fields ...Field) *Object {
	return &Object{Name: name, Fields: fields}
}

// StrictObject returns an object that reports undeclared keys.
func StrictObject(name string, fields ...Field) *Object {
	return &Object{Name: name, Fields: fields, Strict: true}
}

// Field returns the named field.
func (o *Object) Field(name string) (Field, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Extend returns a copy of o with extra fields appended.
func (o *Object) Extend(name string, fields ...Field) *Object {
	all := make([]Field, 0, len(o.Fields)+len(fields))
	all = append(all, o.Fields...)
	all = append(all, fields...)
	return &Object{Name: name, Fields: all, Strict: o.Strict}
}

// Required declares a mandatory field.
func Required(name string, t *Type) Field {
	return Field{Name: name, Type: t, Required: true}
}

// Optional declares a field that may be absent or null.
func Optional(name string, t *Type) Field {
	return Field{Name: name, Type: t}
}

// WithDefault declares an optional field whose absence yields v.
// v must already be in normalized form for t.
func WithDefault(name string, t *Type, v any) Field {
	return Field{Name: name, Type: t, Default: v, hasDefault: true}
}

// Option adjusts a scalar Type.
type Option func(*Type)

// MinLen bounds string length from below, counted in runes.
func MinLen(n int) Option {
	return func(t *Type) { t.MinLength = n }
}

// MaxLen bounds string length from above, counted in runes.
func MaxLen(n int) Option {
	return func(t *Type) { t.MaxLength = n }
}

// Matches requires strings to match expr. It panics on an invalid expression.
func Matches(name, expr string) Option {
	re := regexp.MustCompile(expr)
	return func(t *Type) {
		t.Pattern = re
		t.PatternName = name
	}
}

// AtLeast bounds integers from below.
func AtLeast(n int64) Option {
	return func(t *Type) { t.Min = &n }
}

// AtMost bounds integers from above.
func AtMost(n int64) Option {
	return func(t *Type) { t.Max = &n }
}

func build(k Kind, opts []Option) *Type {
	t := &Type{Kind: k}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func String(opts ...Option) *Type  { return build(KindString, opts) }
func Integer(opts ...Option) *Type { return build(KindInteger, opts) }
func Boolean() *Type               { return build(KindBoolean, nil) }

// Decimal accepts exact decimal numbers; NaN and infinities are rejected.
func Decimal() *Type { return build(KindDecimal, nil) }

// Date accepts ISO calendar dates only.
func Date() *Type { return build(KindDate, nil) }

// DateTime accepts ISO datetimes, ISO dates (midnight UTC) and epoch seconds.
func DateTime() *Type { return build(KindDateTime, nil) }

// FlexibleDate accepts every supported date representation and normalizes to a Date.
func FlexibleDate() *Type { return build(KindFlexibleDate, nil) }

func UUID() *Type { return build(KindUUID, nil) }

// Enum accepts one of the listed strings.
func Enum(values ...string) *Type {
	return &Type{Kind: KindEnum, Enum: values}
}

// Nested embeds an object.
func Nested(o *Object) *Type {
	return &Type{Kind: KindObject, Object: o}
}

// OneOf accepts a value that validates against exactly one variant.
func OneOf(variants ...*Object) *Type {
	return &Type{Kind: KindOneOf, Variants: variants}
}

// Either accepts the first scalar alternative the value validates against.
func Either(alternatives ...*Type) *Type {
	return &Type{Kind: KindEither, Alternatives: alternatives}
}

// Describe renders a compact human-readable summary of t.
func (t *Type) Describe() string {
	switch t.Kind {
	case KindEnum:
		return "enum(" + strings.Join(t.Enum, "|") + ")"
	case KindObject:
		return t.Object.Name
	case KindOneOf:
		names := make([]string, 0, len(t.Variants))
		for _, v := range t.Variants {
			names = append(names, v.Name)
		}
		return "one_of(" + strings.Join(names, "|") + ")"
	case KindEither:
		names := make([]string, 0, len(t.Alternatives))
		for _, a := range t.Alternatives {
			names = append(names, a.Describe())
		}
		return "any_of(" + strings.Join(names, "|") + ")"
	case KindString:
		if t.PatternName != "" {
			return "string(" + t.PatternName + ")"
		}
	}
	return t.Kind.String()
}

// FieldDoc describes one leaf or branch of an Object for documentation.
type FieldDoc struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Docs flattens o into dotted field descriptions in declaration order.
func (o *Object) Docs() []FieldDoc {
	var out []FieldDoc
	var walk func(prefix string, obj *Object)
	walk = func(prefix string, obj *Object) {
		for _, f := range obj.Fields {
			p := joinPath(prefix, f.Name)
			out = append(out, FieldDoc{Path: p, Type: f.Type.Describe(), Required: f.Required})
			if f.Type.Kind == KindObject {
				walk(p, f.Type.Object)
			}
		}
	}
	walk("", o)
	return out
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
