// Package triage classifies articles as relevant or not to the target
// commodity through a staged keyword pipeline.
package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

// Options tune the quality gate.
type Options struct {
	// MinLength rejects texts shorter than this many bytes. Default 20.
	MinLength int
	// MaxLength rejects texts longer than this many bytes. Zero disables
	// the upper bound.
	MaxLength int
}

// Classifier evaluates articles against immutable pre-compiled matcher
// tables. Stateless per article and safe for concurrent use.
type Classifier struct {
	opts      Options
	main      *matcher
	exclusion *matcher
	contexts  map[model.ContextCategory]*matcher
}

// New builds a Classifier with matchers compiled from the term tables.
func New(opts Options) *Classifier {
	if opts.MinLength <= 0 {
		opts.MinLength = 20
	}
	contexts := make(map[model.ContextCategory]*matcher, len(contextTerms))
	for cat, terms := range contextTerms {
		contexts[cat] = compileTerms(terms)
	}
	return &Classifier{
		opts:      opts,
		main:      compileTerms(mainTerms),
		exclusion: compileTerms(exclusionTerms),
		contexts:  contexts,
	}
}

// Classify runs the staged pipeline over the combined title+body text.
// It never fails: malformed input is routed to a quality rejection. The
// result is fully determined by the input, so classifying the same article
// twice yields an identical outcome.
func (c *Classifier) Classify(raw model.RawArticle, observedAt time.Time) model.ClassifiedArticle {
	out := model.ClassifiedArticle{
		RawArticle:  raw,
		ContentHash: c.ContentHash(raw),
		Asset:       model.AssetGeneral,
		ObservedAt:  observedAt,
	}

	text := strings.TrimSpace(raw.Title + "\n" + raw.Body)

	// Stage 1: quality gate.
	if reason, ok := c.qualityReject(raw, text); ok {
		out.Verdict = model.VerdictRejected
		out.Reason = reason
		return out
	}

	// Stage 2: main-term match. A hit routes straight to context
	// extraction: exclusion terms are irrelevant once a main term is
	// present, so mixed-commodity articles are admitted.
	if !c.main.matches(text) {
		// Stage 3: exclusion check, only without a main term.
		out.Verdict = model.VerdictRejected
		if c.exclusion.matches(text) {
			out.Reason = model.ReasonExcluded
		} else {
			out.Reason = model.ReasonNoMainKeyword
		}
		return out
	}

	// Stage 4: advisory context scan and structured fragment extraction.
	for _, cat := range model.ContextCategories {
		if c.contexts[cat].matches(text) {
			out.Categories = append(out.Categories, cat)
		}
	}
	out.Fragments = c.extractFragments(text)

	// Stage 5: accept.
	out.Verdict = model.VerdictAccepted
	out.Asset = model.AssetTarget
	return out
}

func (c *Classifier) qualityReject(raw model.RawArticle, text string) (model.RejectReason, bool) {
	if !raw.PreFilterPassed {
		return model.ReasonQuality, true
	}
	if text == "" || !utf8.ValidString(text) {
		return model.ReasonQuality, true
	}
	if len(text) < c.opts.MinLength {
		return model.ReasonQuality, true
	}
	if c.opts.MaxLength > 0 && len(text) > c.opts.MaxLength {
		return model.ReasonQuality, true
	}
	return "", false
}

// extractFragments keeps structured lines that mention a main term and no
// exclusion term.
func (c *Classifier) extractFragments(text string) []string {
	var fragments []string
	for _, line := range strings.Split(text, "\n") {
		if !isStructuredLine(line) {
			continue
		}
		if !c.main.matches(line) || c.exclusion.matches(line) {
			continue
		}
		fragments = append(fragments, strings.TrimSpace(line))
	}
	return fragments
}

// ContentHash derives the stable content identifier: a sha256 over the
// case-folded, NFKC-normalized, whitespace-collapsed title, body and
// source identity.
func (c *Classifier) ContentHash(raw model.RawArticle) string {
	h := sha256.New()
	h.Write([]byte(c.canon(raw.Title)))
	h.Write([]byte{'|'})
	h.Write([]byte(c.canon(raw.Body)))
	h.Write([]byte{'|'})
	h.Write([]byte(raw.SourceID))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Classifier) canon(s string) string {
	// A cases.Caser is stateful, so build one per call rather than
	// sharing it across goroutines.
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Fold exposes the classifier's case folding for tokenizers that must agree
// with the hash canonicalization.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}
