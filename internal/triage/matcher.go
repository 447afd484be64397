package triage

import (
	"regexp"
	"strings"
)

// matcher holds pre-compiled whole-word patterns for one term set.
type matcher struct {
	patterns []*regexp.Regexp
}

// compileTerms builds case-insensitive, word-bounded patterns. Multi-word
// terms match their words in order separated by arbitrary whitespace.
func compileTerms(terms []string) *matcher {
	m := &matcher{patterns: make([]*regexp.Regexp, 0, len(terms))}
	for _, term := range terms {
		words := strings.Fields(term)
		escaped := make([]string, len(words))
		for i, w := range words {
			escaped[i] = regexp.QuoteMeta(w)
		}
		expr := `(?i)\b` + strings.Join(escaped, `\s+`) + `\b`
		m.patterns = append(m.patterns, regexp.MustCompile(expr))
	}
	return m
}

// matches reports whether any term occurs in text.
func (m *matcher) matches(text string) bool {
	for _, p := range m.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Structured-line patterns: bullets, numbered lists, table rows, and
// "Key: value" lines. Evaluated per line of the article body.
var structuredLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*[*\-\x{2022}]\s+\S.*`),
	regexp.MustCompile(`^\s*\d+\.\s+\S.*`),
	regexp.MustCompile(`^\s*\|.*\|\s*$`),
	regexp.MustCompile(`(?i)^\s*(contract|date|price|volume|index)\s*[:\-]\s*\S.*`),
}

func isStructuredLine(line string) bool {
	for _, p := range structuredLinePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
