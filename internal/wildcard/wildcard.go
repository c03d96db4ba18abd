// Package wildcard implements the '*'/'?' glob matching used both by the
// hints file's pattern-to-service-URL selection and by the tool projector's
// entity/function name allowlists. Grounded on the teacher's
// internal/hint.Manager.matchesPattern, generalized into a shared,
// anchored regexp translation rather than the substring-scan approach, so
// both callers get full (not prefix/suffix-only) glob support.
package wildcard

import (
	"regexp"
	"strings"
)

var metaChars = regexp.MustCompile(`[.+^$()\[\]{}|\\]`)

// Match reports whether s matches pattern, where '*' matches any run of
// characters (including none) and '?' matches exactly one character.
func Match(s, pattern string) bool {
	if pattern == "" {
		return s == ""
	}
	if pattern == "*" {
		return true
	}
	return compile(pattern).MatchString(s)
}

// MatchAny reports whether s matches any of the given patterns.
func MatchAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if Match(s, p) {
			return true
		}
	}
	return false
}

var cache = map[string]*regexp.Regexp{}

func compile(pattern string) *regexp.Regexp {
	if re, ok := cache[pattern]; ok {
		return re
	}
	escaped := metaChars.ReplaceAllStringFunc(pattern, func(m string) string {
		return "\\" + m
	})
	escaped = strings.ReplaceAll(escaped, "*", ".*")
	escaped = strings.ReplaceAll(escaped, "?", ".")
	re := regexp.MustCompile("^" + escaped + "$")
	cache[pattern] = re
	return re
}
