package httpstages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/flowrt/flow"
)

// ParseJSON returns a step that unmarshals the incoming value from JSON.
// Value must be []byte or string (typically a Get/Fetch response body).
// The decoded value is whatever encoding/json produces for it, e.g.
// map[string]any for a JSON object.
func ParseJSON() flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		raw, err := rawJSON(value)
		if err != nil {
			return nil, fmt.Errorf("parsejson: %w", err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parsejson: %w", err)
		}
		return out, nil
	}
}

// ParseJSONTo returns a step that unmarshals the incoming value from JSON
// into a *T. Value must be []byte or string.
func ParseJSONTo[T any]() flow.FuncStep {
	return func(_ context.Context, value any, _ error) (any, error) {
		raw, err := rawJSON(value)
		if err != nil {
			return nil, fmt.Errorf("parsejsonto: %w", err)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parsejsonto: %w", err)
		}
		return &out, nil
	}
}

func rawJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("input must be []byte or string, got %T", value)
	}
}
