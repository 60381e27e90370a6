// Package attrs reads slog-style alternating key/value lists.
package attrs

// String returns the string value stored under key in a [k1, v1, k2, v2, ...]
// list, or "" when key is absent or not a string.
func String(list []any, key string) string {
	for i := 0; i+1 < len(list); i += 2 {
		if k, ok := list[i].(string); ok && k == key {
			if v, ok := list[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// Map converts list into a map, skipping non-string keys and any key in omit.
// It returns nil when nothing is left.
func Map(list []any, omit ...string) map[string]any {
	out := make(map[string]any, len(list)/2)
	for i := 0; i+1 < len(list); i += 2 {
		key, ok := list[i].(string)
		if !ok || contains(omit, key) {
			continue
		}
		out[key] = list[i+1]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
