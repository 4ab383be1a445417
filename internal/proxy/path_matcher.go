package proxy

import (
	"path"
	"strings"
)

// DefaultAllowedPaths forwards everything under a route
var DefaultAllowedPaths = []string{"/**"}

// PathMatcher checks downstream paths against a route's allowlist. Patterns
// are globs over path segments:
//   - /orders matches exactly /orders
//   - /orders/* matches one segment below /orders
//   - /orders/*/lines matches /orders/42/lines
//   - /orders/** matches /orders and everything below it
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher normalises patterns once. An empty list denies everything.
func NewPathMatcher(patterns []string) *PathMatcher {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		normalized = append(normalized, normalizePath(p))
	}
	return &PathMatcher{patterns: normalized}
}

// IsAllowed reports whether requestPath matches any pattern
func (pm *PathMatcher) IsAllowed(requestPath string) bool {
	requestPath = normalizePath(requestPath)
	for _, pattern := range pm.patterns {
		if matchGlob(pattern, requestPath) {
			return true
		}
	}
	return false
}

// normalizePath returns a cleaned path with a leading slash and no trailing
// slash. Dot segments are resolved so /api/../admin cannot slip past a
// pattern.
func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func matchGlob(pattern, requestPath string) bool {
	if pattern == requestPath {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" {
			return true
		}
		if requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/") {
			return true
		}
	}

	if !strings.Contains(pattern, "*") {
		return false
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(requestPath, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if part == "*" {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}
