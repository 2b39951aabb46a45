package fs

import (
	"path/filepath"
	"strings"
)

// DefaultExcludePatterns are the version-control, dependency and OS clutter
// paths that never count as drift.
var DefaultExcludePatterns = []string{
	"**/.git/**",
	"**/.svn/**",
	"**/.hg/**",
	"**/node_modules/**",
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/*.tmp",
	"**/*.temp",
	"**/System Volume Information/**",
	"**/$RECYCLE.BIN/**",
}

// excludePattern is a parsed pattern with its matching strategy.
type excludePattern struct {
	raw       string
	segments  []string
	matchPath bool // false = match against basename only
}

// ExcludeMatcher checks relative paths against glob patterns.
// Patterns without '/' match the basename. Patterns with '/' match the whole
// relative path segment by segment, where "**" spans any number of segments
// (including none) and other segments use filepath.Match syntax.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher creates an ExcludeMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := excludePattern{raw: raw, matchPath: strings.Contains(raw, "/")}
		if p.matchPath {
			p.segments = strings.Split(strings.Trim(raw, "/"), "/")
		}
		patterns = append(patterns, p)
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether relativePath is excluded.
func (m *ExcludeMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 || relativePath == "" || relativePath == "." {
		return false
	}

	normalized := filepath.ToSlash(filepath.Clean(relativePath))
	parts := strings.Split(normalized, "/")
	basename := parts[len(parts)-1]

	for _, p := range m.patterns {
		if p.matchPath {
			if matchSegments(p.segments, parts) {
				return true
			}
			continue
		}
		// Bad patterns never match.
		if ok, err := filepath.Match(p.raw, basename); err == nil && ok {
			return true
		}
	}
	return false
}

func matchSegments(pattern, parts []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(parts); i++ {
				if matchSegments(rest, parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		ok, err := filepath.Match(pattern[0], parts[0])
		if err != nil || !ok {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}

// IsHidden reports whether any component of relativePath starts with a dot.
func IsHidden(relativePath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relativePath), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
