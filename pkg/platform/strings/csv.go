// Package strings parses comma-separated lists from query strings and
// environment variables.
package strings

import (
	"strings"
)

// SplitCSV splits raw on commas, trims each element, and drops empty and
// repeated elements. Order of first appearance is kept.
//
//	SplitCSV(" a,b,,a ") // []string{"a", "b"}
func SplitCSV(raw string) []string {
	return split(raw, strings.TrimSpace)
}

// SplitCSVLower is SplitCSV with case-insensitive deduplication; elements are
// returned lowercased.
func SplitCSVLower(raw string) []string {
	return split(raw, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func split(raw string, norm func(string) string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		v := norm(p)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
