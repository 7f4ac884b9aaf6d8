package util

import "strings"

// TokenLogPrefixLength is how many characters of a code, token or session
// id may appear in logs.
const TokenLogPrefixLength = 8

// SafeTruncate returns at most maxLen bytes of s. A negative maxLen yields "".
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ParseScope splits a space-delimited scope string, dropping empty entries
// and duplicates while keeping first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	out := fields[:0]
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinScope is the inverse of ParseScope.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// HasScope reports whether the space-delimited scope contains want.
func HasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// ScopeSubset reports whether every entry of requested appears in granted.
func ScopeSubset(requested, granted string) bool {
	have := make(map[string]struct{})
	for _, s := range strings.Fields(granted) {
		have[s] = struct{}{}
	}
	for _, s := range strings.Fields(requested) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
