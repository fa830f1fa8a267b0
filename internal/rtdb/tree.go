package rtdb

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerValue is a placeholder resolved by the backend when a write commits.
type ServerValue string

// ServerTimestamp is replaced with the backend clock in epoch milliseconds.
const ServerTimestamp ServerValue = "timestamp"

// MarshalJSON encodes the placeholder so it survives normalization inside structs and maps.
func (v ServerValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{".sv": string(v)})
}

// Trees are immutable once stored: writers copy the path they change and share the rest.

func lookup(node any, segs []string) any {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

func setIn(node any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	src, _ := node.(map[string]any)
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	child := setIn(src[segs[0]], segs[1:], value)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalize converts an arbitrary Go value into the JSON tree model
// (nil, bool, float64, string, []any, map[string]any) with empty objects pruned.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(out), nil
}

func prune(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	for k, v := range m {
		if child := prune(v); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func deepClone(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepClone(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepClone(child)
		}
		return out
	default:
		return v
	}
}

func isServerValue(m map[string]any) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	sv, ok := m[".sv"].(string)
	return sv, ok
}

func hasServerValues(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := isServerValue(m); ok {
		return true
	}
	for _, child := range m {
		if hasServerValues(child) {
			return true
		}
	}
	return false
}

// resolveServerValues mutates a freshly normalized tree in place.
func resolveServerValues(node any, now time.Time) (any, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return node, nil
	}
	if sv, ok := isServerValue(m); ok {
		if sv != string(ServerTimestamp) {
			return nil, fmt.Errorf("unsupported server value %q", sv)
		}
		return float64(now.UnixMilli()), nil
	}
	for k, child := range m {
		resolved, err := resolveServerValues(child, now)
		if err != nil {
			return nil, err
		}
		m[k] = resolved
	}
	return m, nil
}
