package search

import "strings"

// normalizeQuery collapses whitespace so "  monas   jakarta " and
// "monas jakarta" count as the same query
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func cloneCandidates[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
