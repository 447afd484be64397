// Package ingest runs historical backfills: it fetches articles window by
// window through a bounded worker pool, classifies and accumulates them,
// checkpoints progress, and commits the deduplicated survivors at the end.
package ingest

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// CleanHTML strips markup tags and decodes entities. Provider article
// bodies arrive with residual markup from upstream scraping.
func CleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return CollapseWhitespace(s)
}

// Normalize applies NFKC compatibility normalization and collapses
// whitespace. Full-width digits and ligatures from international wire
// copy fold to their ASCII forms.
func Normalize(s string) string {
	return CollapseWhitespace(norm.NFKC.String(s))
}

// CollapseWhitespace folds runs of whitespace to single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
