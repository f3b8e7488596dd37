package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/starford/othala/internal/apperr"
)

// Validate checks raw against obj and returns the normalized value.
//
// raw may be a map, a JSON document ([]byte, string, json.RawMessage) or any
// value that encodes to a JSON object. Every violation is collected; on failure
// the error is an *apperr.ValidationError. On success absent optional fields
// carry their defaults and scalars are normalized: decimals to decimal.Decimal,
// dates to CivilDate, datetimes to time.Time, integers to int64, UUIDs to uuid.UUID.
func Validate(raw any, obj *Object) (map[string]any, error) {
	if obj == nil {
		return nil, errors.New("schema: nil object")
	}
	value, err := Decode(raw)
	if err != nil {
		return nil, &apperr.ValidationError{
			Schema:     obj.Name,
			Violations: []error{&apperr.TypeConstraintError{Constraint: "json", Value: raw, Detail: err.Error()}},
		}
	}

	w := &walker{}
	out := w.object("", value, obj)
	if len(w.errs) > 0 {
		return nil, &apperr.ValidationError{Schema: obj.Name, Violations: w.errs}
	}
	return out, nil
}

type walker struct {
	errs []error
}

func (w *walker) fail(path, constraint string, value any, detail string) {
	w.errs = append(w.errs, &apperr.TypeConstraintError{
		Path:       path,
		Constraint: constraint,
		Value:      value,
		Detail:     detail,
	})
}

func (w *walker) object(path string, raw any, obj *Object) map[string]any {
	m, ok := raw.(map[string]any)
	if !ok {
		w.fail(path, "object", raw, obj.Name+" expected")
		return nil
	}

	out := make(map[string]any, len(obj.Fields))
	for _, f := range obj.Fields {
		p := joinPath(path, f.Name)
		v, present := m[f.Name]
		if present && v == nil {
			if f.Required {
				w.fail(p, "not_null", nil, "")
				continue
			}
			present = false
		}
		if !present {
			switch {
			case f.hasDefault:
				out[f.Name] = f.Default
			case f.Required:
				w.errs = append(w.errs, &apperr.RequiredFieldError{Path: p})
			}
			continue
		}
		if nv, ok := w.value(p, v, f.Type); ok {
			out[f.Name] = nv
		}
	}

	if obj.Strict {
		var extra []string
		for k := range m {
			if _, known := obj.Field(k); !known {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			w.errs = append(w.errs, &apperr.ExtraFieldError{Path: path, Fields: extra})
		}
	}
	return out
}

func (w *walker) value(path string, v any, t *Type) (any, bool) {
	switch t.Kind {
	case KindString:
		return w.str(path, v, t)
	case KindInteger:
		return w.integer(path, v, t)
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			w.fail(path, "type", v, "boolean expected")
		}
		return b, ok
	case KindDecimal:
		return w.decimal(path, v)
	case KindEnum:
		s, ok := v.(string)
		if ok {
			for _, allowed := range t.Enum {
				if s == allowed {
					return s, true
				}
			}
		}
		w.fail(path, "enum", v, "one of "+strings.Join(t.Enum, ", "))
		return nil, false
	case KindDate:
		return w.isoDate(path, v)
	case KindDateTime:
		d, err := ParseDateTime(v)
		if err != nil {
			w.fail(path, dateConstraint(err, "datetime"), v, err.Error())
			return nil, false
		}
		return d, true
	case KindFlexibleDate:
		d, err := ParseFlexibleDate(v)
		if err != nil {
			w.fail(path, dateConstraint(err, "date"), v, err.Error())
			return nil, false
		}
		return d, true
	case KindUUID:
		return w.uuid(path, v)
	case KindObject:
		before := len(w.errs)
		out := w.object(path, v, t.Object)
		return out, len(w.errs) == before
	case KindOneOf:
		return w.oneOf(path, v, t)
	case KindEither:
		return w.either(path, v, t)
	}
	w.fail(path, "type", v, fmt.Sprintf("unsupported schema kind %s", t.Kind))
	return nil, false
}

func dateConstraint(err error, fallback string) string {
	if errors.Is(err, errBoolean) {
		return "not_boolean"
	}
	return fallback
}

func (w *walker) str(path string, v any, t *Type) (any, bool) {
	s, ok := v.(string)
	if !ok {
		w.fail(path, "type", v, "string expected")
		return nil, false
	}
	n := utf8.RuneCountInString(s)
	switch {
	case t.MinLength > 0 && n < t.MinLength:
		w.fail(path, "min_length", s, fmt.Sprintf("at least %d characters", t.MinLength))
		return nil, false
	case t.MaxLength > 0 && n > t.MaxLength:
		w.fail(path, "max_length", s, fmt.Sprintf("at most %d characters", t.MaxLength))
		return nil, false
	case t.Pattern != nil && !t.Pattern.MatchString(s):
		w.fail(path, "pattern", s, t.PatternName)
		return nil, false
	}
	return s, true
}

func (w *walker) integer(path string, v any, t *Type) (any, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case json.Number:
		parsed, err := strconv.ParseInt(x.String(), 10, 64)
		if err != nil {
			w.fail(path, "type", v, "integer expected")
			return nil, false
		}
		n = parsed
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			w.fail(path, "type", v, "integer expected")
			return nil, false
		}
		// -2^63 is exact; 2^63 already overflows
		if x < math.MinInt64 || x >= -math.MinInt64 {
			w.fail(path, "range", v, "integer out of range")
			return nil, false
		}
		n = int64(x)
	default:
		w.fail(path, "type", v, "integer expected")
		return nil, false
	}
	if t.Min != nil && n < *t.Min {
		w.fail(path, "min", n, fmt.Sprintf("at least %d", *t.Min))
		return nil, false
	}
	if t.Max != nil && n > *t.Max {
		w.fail(path, "max", n, fmt.Sprintf("at most %d", *t.Max))
		return nil, false
	}
	return n, true
}

// Decimals are bounded so that formatting one stays cheap.
const (
	maxDecimalExponent = 64
	maxDecimalDigits   = 40
	maxDecimalLength   = 128
)

var nonFinite = map[string]struct{}{
	"nan": {}, "inf": {}, "+inf": {}, "-inf": {},
	"infinity": {}, "+infinity": {}, "-infinity": {},
}

func (w *walker) decimal(path string, v any) (any, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return w.decimalRange(path, v, x)
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			w.fail(path, "finite", v, "")
			return nil, false
		}
		return w.decimalRange(path, v, decimal.NewFromFloat(x))
	case json.Number:
		return w.decimalString(path, x.String())
	case string:
		return w.decimalString(path, x)
	}
	w.fail(path, "type", v, "decimal expected")
	return nil, false
}

func (w *walker) decimalString(path, s string) (any, bool) {
	s = strings.TrimSpace(s)
	if _, bad := nonFinite[strings.ToLower(s)]; bad {
		w.fail(path, "finite", s, "")
		return nil, false
	}
	if len(s) > maxDecimalLength {
		w.fail(path, "range", s, fmt.Sprintf("at most %d characters", maxDecimalLength))
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		w.fail(path, "type", s, "decimal expected")
		return nil, false
	}
	return w.decimalRange(path, s, d)
}

func (w *walker) decimalRange(path string, v any, d decimal.Decimal) (any, bool) {
	if exp := d.Exponent(); exp > maxDecimalExponent || exp < -maxDecimalExponent {
		w.fail(path, "range", v, fmt.Sprintf("exponent must be within ±%d", maxDecimalExponent))
		return nil, false
	}
	if d.NumDigits() > maxDecimalDigits {
		w.fail(path, "range", v, fmt.Sprintf("at most %d significant digits", maxDecimalDigits))
		return nil, false
	}
	return d, true
}

func (w *walker) isoDate(path string, v any) (any, bool) {
	switch x := v.(type) {
	case CivilDate:
		return x, true
	case time.Time:
		return DateOf(x), true
	case string:
		t, err := time.Parse(isoDate, strings.TrimSpace(x))
		if err == nil {
			return DateOf(t), true
		}
	case bool:
		w.fail(path, "not_boolean", v, "")
		return nil, false
	}
	w.fail(path, "date", v, "YYYY-MM-DD expected")
	return nil, false
}

func (w *walker) uuid(path string, v any) (any, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case string:
		id, err := uuid.Parse(x)
		if err == nil {
			return id, true
		}
	}
	w.fail(path, "uuid", v, "")
	return nil, false
}

func (w *walker) oneOf(path string, v any, t *Type) (any, bool) {
	var (
		match   any
		matched []string
		best    []error
	)
	for _, variant := range t.Variants {
		sub := &walker{}
		out := sub.object(path, v, variant)
		if len(sub.errs) == 0 {
			match = out
			matched = append(matched, variant.Name)
			continue
		}
		if best == nil || len(sub.errs) < len(best) {
			best = sub.errs
		}
	}
	switch {
	case len(matched) == 1:
		return match, true
	case len(matched) > 1:
		w.fail(path, "one_of", v, "matches more than one of "+strings.Join(matched, ", "))
	default:
		detail := t.Describe()
		if len(best) > 0 {
			detail += ": closest match failed with " + best[0].Error()
		}
		w.fail(path, "one_of", v, detail)
	}
	return nil, false
}

func (w *walker) either(path string, v any, t *Type) (any, bool) {
	for _, alt := range t.Alternatives {
		sub := &walker{}
		if out, ok := sub.value(path, v, alt); ok && len(sub.errs) == 0 {
			return out, true
		}
	}
	w.fail(path, "any_of", v, t.Describe())
	return nil, false
}
