// Package util provides small string helpers shared by the server and client.
package util

import (
	"slices"
	"strings"
)

// SanitizeQuery normalizes a free-text query into its search terms: commas
// are removed, the text is lowercased and split on whitespace, and repeated
// terms are dropped. Order of first appearance is kept.
func SanitizeQuery(q string) []string {
	q = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(q), ",", ""))
	fields := strings.Fields(q)
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// CacheKey builds a cache key for a sanitized query. Term order does not
// matter to search, so the key uses the sorted terms.
func CacheKey(prefix string, terms []string) string {
	sorted := slices.Clone(terms)
	slices.Sort(sorted)
	return prefix + ":" + strings.Join(sorted, " ")
}

// JoinNonEmpty joins the non-empty parts with sep.
func JoinNonEmpty(sep string, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(p)
	}
	return b.String()
}

// ContainsFold reports whether substr is within s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
