package docstore

import (
	"encoding/json"
	"fmt"
)

// normalizeData converts caller data into JSON-shaped values so every
// adapter stores, filters and compares the same representation.
func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}

// normalizeValue applies the same conversion to a single filter value.
// Values that cannot be encoded are kept as given and simply never match.
func normalizeValue(value any) any {
	switch value.(type) {
	case nil, bool, float64, string:
		return value
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return cloneData(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

// mergePatch returns base with patch's top-level fields replacing its own.
func mergePatch(base, patch map[string]any) map[string]any {
	out := cloneData(base)
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}
