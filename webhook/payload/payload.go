package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when the body is valid JSON but not an object
var ErrNotObject = errors.New("payload must be a JSON object")

// Content is the untyped JSON object received from a webhook provider
type Content map[string]any

// Parse decodes a webhook body into Content.
// Numbers are kept as json.Number so large integers survive the relay unchanged.
func Parse(data []byte) (Content, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	// Trailing data after the first value is malformed input
	if dec.More() {
		return nil, fmt.Errorf("unmarshaling payload: unexpected data after JSON value")
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	return Content(obj), nil
}

// Bytes returns the JSON-encoded content
// The returned bytes are minified (no extra whitespace)
func (c Content) Bytes() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(c))
}

// Clone returns a deep copy of the content tree
func (c Content) Clone() Content {
	if c == nil {
		return nil
	}
	return Content(cloneValue(map[string]any(c)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case Content:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		// strings, bools, json.Number, float64 and nil are immutable
		return t
	}
}
