package token

import (
	"slices"
	"strings"
)

// SplitScope splits a space-delimited scope string, dropping empty entries.
func SplitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	parts := strings.Split(scope, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinScope joins scopes with single spaces.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopeIntersection returns the scopes of requested that also appear in
// allowed, in requested order and without duplicates. It never adds scopes.
func ScopeIntersection(requested, allowed []string) []string {
	var out []string
	for _, s := range requested {
		if slices.Contains(allowed, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// IsScopeSubset reports whether every scope in requested is in allowed.
func IsScopeSubset(requested, allowed []string) bool {
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return false
		}
	}
	return true
}
