// Package dedup removes duplicate articles from the accumulated candidate
// set while preserving cross-source corroboration.
package dedup

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/triage"
)

// prefixTokens is the coarse bucket width: candidates only undergo pairwise
// similarity comparison when their normalized texts share this leading
// shingle, which keeps the quadratic comparison confined to small buckets.
const prefixTokens = 6

// Options tune duplicate detection.
type Options struct {
	// Threshold is the token-set Jaccard similarity at or above which two
	// same-source articles are considered duplicates. Default 0.9.
	Threshold float64
	// KeepEarliest retains the earliest-observed representative of a
	// duplicate group instead of the default latest.
	KeepEarliest bool
}

// Engine deduplicates accepted articles.
type Engine struct {
	opts Options
}

// New creates an Engine, applying defaults.
func New(opts Options) *Engine {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = 0.9
	}
	return &Engine{opts: opts}
}

// Result reports what survived deduplication.
type Result struct {
	Kept    []model.ClassifiedArticle
	Dropped int
}

// Dedupe returns the subset of articles to persist. Two articles are
// duplicates only when they come from the same source AND are either
// exactly equal after normalization or token-set Jaccard similar at or
// above the threshold. Identical content from different sources always
// survives on both sides.
func (e *Engine) Dedupe(articles []model.ClassifiedArticle) Result {
	// Partition by source so cross-source pairs are never compared.
	bySource := make(map[string][]int)
	for i, a := range articles {
		bySource[a.SourceID] = append(bySource[a.SourceID], i)
	}

	drop := make(map[int]bool)
	for _, idxs := range bySource {
		e.dedupeSource(articles, idxs, drop)
	}

	kept := make([]model.ClassifiedArticle, 0, len(articles)-len(drop))
	for i, a := range articles {
		if !drop[i] {
			kept = append(kept, a)
		}
	}

	if len(drop) > 0 {
		zap.L().Info("dedup: removed duplicates",
			zap.Int("input", len(articles)),
			zap.Int("kept", len(kept)),
			zap.Int("dropped", len(drop)),
		)
	}
	return Result{Kept: kept, Dropped: len(drop)}
}

// dedupeSource marks losers within one source partition.
func (e *Engine) dedupeSource(articles []model.ClassifiedArticle, idxs []int, drop map[int]bool) {
	// Exact pass: normalized (title,text) identity.
	exact := make(map[string]int, len(idxs))
	for _, i := range idxs {
		key := normalizedText(articles[i])
		if prev, ok := exact[key]; ok {
			drop[e.loser(articles, prev, i)] = true
			if !drop[i] {
				exact[key] = i
			}
			continue
		}
		exact[key] = i
	}

	// Near pass: bucket by coarse shingled prefix, then pairwise Jaccard
	// within each bucket.
	buckets := make(map[string][]int)
	for _, i := range idxs {
		if drop[i] {
			continue
		}
		buckets[prefixKey(articles[i])] = append(buckets[prefixKey(articles[i])], i)
	}
	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		sets := make([]map[string]struct{}, len(bucket))
		for k, i := range bucket {
			sets[k] = tokenSet(articles[i])
		}
		for a := 0; a < len(bucket); a++ {
			if drop[bucket[a]] {
				continue
			}
			for b := a + 1; b < len(bucket); b++ {
				if drop[bucket[b]] {
					continue
				}
				if jaccard(sets[a], sets[b]) >= e.opts.Threshold {
					drop[e.loser(articles, bucket[a], bucket[b])] = true
				}
			}
		}
	}
}

// loser picks which of two duplicate indexes to drop under the keep policy.
func (e *Engine) loser(articles []model.ClassifiedArticle, i, j int) int {
	iLater := articles[i].ObservedAt.After(articles[j].ObservedAt)
	if e.opts.KeepEarliest {
		if iLater {
			return i
		}
		return j
	}
	if iLater {
		return j
	}
	return i
}

func normalizedText(a model.ClassifiedArticle) string {
	return strings.Join(strings.Fields(triage.Fold(a.Title+" "+a.Body)), " ")
}

func tokenSet(a model.ClassifiedArticle) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(triage.Fold(a.Title + " " + a.Body)) {
		set[tok] = struct{}{}
	}
	return set
}

// prefixKey is the coarse shingle: the first prefixTokens tokens of the
// normalized text.
func prefixKey(a model.ClassifiedArticle) string {
	fields := strings.Fields(triage.Fold(a.Title + " " + a.Body))
	if len(fields) > prefixTokens {
		fields = fields[:prefixTokens]
	}
	return strings.Join(fields, " ")
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// SortByObserved orders articles oldest-first by observation time, with
// content hash as a stable tiebreak. The final batch commit uses it so the
// persisted order is reproducible.
func SortByObserved(articles []model.ClassifiedArticle) {
	sort.Slice(articles, func(i, j int) bool {
		if !articles[i].ObservedAt.Equal(articles[j].ObservedAt) {
			return articles[i].ObservedAt.Before(articles[j].ObservedAt)
		}
		return articles[i].ContentHash < articles[j].ContentHash
	})
}
