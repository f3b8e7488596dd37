package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Decode turns raw input into the generic value tree the walker understands.
// Numbers stay textual (json.Number) so decimals are never routed through float64.
func Decode(raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, errors.New("input is empty")
	case map[string]any:
		return v, nil
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	case string:
		return decodeJSON([]byte(v))
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		return decodeJSON(b)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", raw, err)
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode json: trailing data after document")
	}
	return v, nil
}

// Bind copies a normalized value into a typed struct through its JSON encoding.
func Bind[T any](normalized map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(normalized)
	if err != nil {
		return out, fmt.Errorf("schema: bind encode: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("schema: bind %T: %w", out, err)
	}
	return out, nil
}

// Parse validates raw against obj and binds the result into T.
func Parse[T any](raw any, obj *Object) (T, map[string]any, error) {
	var zero T
	normalized, err := Validate(raw, obj)
	if err != nil {
		return zero, nil, err
	}
	out, err := Bind[T](normalized)
	if err != nil {
		return zero, nil, err
	}
	return out, normalized, nil
}
