package templates

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/starford/othala/internal/schema"
)

// Funcs returns the helpers available to every layout and style template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"q":        quote,
		"date":     formatDate,
		"datetime": formatDateTime,
		"money":    money,
		"upper":    func(v any) string { return strings.ToUpper(text(v)) },
		"default":  orDefault,
		"has":      has,
		"get":      get,
	}
}

// quote renders v as a double-quoted YAML scalar.
func quote(v any) string {
	return strconv.Quote(text(v))
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func formatDate(layout string, v any) (string, error) {
	d, err := schema.ParseFlexibleDate(v)
	if err != nil {
		return "", fmt.Errorf("date: %v: %w", v, err)
	}
	return d.Format(layout), nil
}

func formatDateTime(layout string, v any) (string, error) {
	t, err := schema.ParseDateTime(v)
	if err != nil {
		return "", fmt.Errorf("datetime: %v: %w", v, err)
	}
	return t.Format(layout), nil
}

// money renders an amount with exactly two decimals.
func money(v any) (string, error) {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case int64:
		d = decimal.NewFromInt(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case json.Number:
		parsed, err := decimal.NewFromString(x.String())
		if err != nil {
			return "", fmt.Errorf("money: %w", err)
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(x)
		if err != nil {
			return "", fmt.Errorf("money: %w", err)
		}
		d = parsed
	default:
		return "", fmt.Errorf("money: unsupported value %T", v)
	}
	return d.StringFixed(2), nil
}

// orDefault is used as {{ default "n/a" .x }}.
func orDefault(def, v any) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// get reads an optional key without tripping missingkey=error.
func get(m map[string]any, key string) any {
	return m[key]
}
