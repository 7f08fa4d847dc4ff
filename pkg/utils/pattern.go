// Package utils provides small, dependency-free helpers shared across the
// aggregation layer — currently just bypass-pattern matching for the
// force-bypass ops feature.
//
// Supported patterns:
//   - Exact: "GetUser" matches only "GetUser"
//   - Prefix wildcard: "Get*" matches "GetUser", "GetOrder", ...
//   - Suffix wildcard: "*Internal" matches "PingInternal", "SyncInternal"
//   - Contains wildcard: "*Admin*" matches any name containing "Admin"
//   - Regex: "^Get(User|Order)$" (detected by regex metacharacters),
//     compiled once and cached.
package utils

import (
	"regexp"
	"strings"
	"sync"
)

// PatternMatcher checks an operationName against a small set of
// glob/regex patterns, caching compiled regexes.
type PatternMatcher struct {
	regexCache sync.Map // map[string]*regexp.Regexp
}

// NewPatternMatcher creates an empty pattern matcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// MatchAny reports whether name matches any of patterns.
func (pm *PatternMatcher) MatchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if pm.Match(name, p) {
			return true
		}
	}
	return false
}

// Match reports whether name matches pattern.
func (pm *PatternMatcher) Match(name, pattern string) bool {
	switch {
	case pattern == "":
		return false
	case isRegex(pattern):
		return pm.matchRegex(name, pattern)
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return name == pattern
	}
}

func isRegex(pattern string) bool {
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		return true
	}
	for _, r := range pattern {
		switch r {
		case '(', ')', '[', ']', '+', '|', '.', '\\':
			return true
		}
	}
	return false
}

func (pm *PatternMatcher) matchRegex(name, pattern string) bool {
	var re *regexp.Regexp
	if cached, ok := pm.regexCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		re = compiled
		pm.regexCache.Store(pattern, re)
	}
	return re.MatchString(name)
}
