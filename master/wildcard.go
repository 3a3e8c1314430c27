package master

import (
	"strings"

	"golang.org/x/text/cases"
)

const wildcard = "*"

// WildcardMatcher matches text case-insensitively against a pattern in which "*" stands for
// any substring, including the empty one. No other character is special.
type WildcardMatcher struct {
	pattern string
	parts   []string
}

// NewWildcardMatcher compiles pattern. An empty pattern is valid and only matches empty text.
func NewWildcardMatcher(pattern string) WildcardMatcher {
	folded := foldCase(pattern)

	return WildcardMatcher{
		pattern: pattern,
		parts:   strings.Split(folded, wildcard),
	}
}

// Pattern returns the pattern as given.
func (m WildcardMatcher) Pattern() string {
	return m.pattern
}

// Match reports whether text matches the pattern.
func (m WildcardMatcher) Match(text string) bool {
	s := foldCase(text)

	if len(m.parts) == 1 {
		return s == m.parts[0]
	}

	first, last := m.parts[0], m.parts[len(m.parts)-1]
	if len(s) < len(first)+len(last) || !strings.HasPrefix(s, first) || !strings.HasSuffix(s, last) {
		return false
	}

	middle := s[len(first) : len(s)-len(last)]
	for _, part := range m.parts[1 : len(m.parts)-1] {
		idx := strings.Index(middle, part)
		if idx < 0 {
			return false
		}

		middle = middle[idx+len(part):]
	}

	return true
}

// foldCase applies Unicode case folding. A Caser carries state, so each call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}
