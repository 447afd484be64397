package model

import "time"

// Verdict is the triage outcome for an article.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// RejectReason explains why an article failed triage. Empty unless rejected.
type RejectReason string

const (
	// ReasonQuality covers empty text, length bounds, a failed upstream
	// pre-filter flag, and any malformed input.
	ReasonQuality RejectReason = "quality"
	// ReasonExcluded means no main term matched and an exclusion term did.
	ReasonExcluded RejectReason = "excluded"
	// ReasonNoMainKeyword means neither a main nor an exclusion term matched.
	ReasonNoMainKeyword RejectReason = "no_main_keyword"
)

// AssetLabel marks whether an article is about the target commodity.
type AssetLabel string

const (
	AssetTarget  AssetLabel = "target"
	AssetGeneral AssetLabel = "general"
)

// ContextCategory is a named thematic keyword group. Matches are advisory
// enrichment only and never gate acceptance.
type ContextCategory string

const (
	CategoryMarket      ContextCategory = "market"
	CategorySupplyChain ContextCategory = "supply_chain"
	CategoryEvent       ContextCategory = "event"
	CategoryRegion      ContextCategory = "region"
)

// ContextCategories lists every category in evaluation order.
var ContextCategories = []ContextCategory{
	CategoryMarket,
	CategorySupplyChain,
	CategoryEvent,
	CategoryRegion,
}

// RawArticle is an article as returned by the news provider, before
// normalization and triage. Never mutated; consumed immediately.
type RawArticle struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
	// Meta is the provider-assigned opaque metadata blob, carried through
	// untouched.
	Meta []byte `json:"meta,omitempty"`
	// PreFilterPassed reflects the provider-side topic pre-filter.
	PreFilterPassed bool `json:"pre_filter_passed"`
}

// ClassifiedArticle is a RawArticle plus the triage outcome. Created once
// by the classifier and immutable afterward.
type ClassifiedArticle struct {
	RawArticle

	// ContentHash is a stable identifier derived from the normalized
	// title, body and source. Upsert key in the article store.
	ContentHash string `json:"content_hash"`

	Verdict    Verdict           `json:"verdict"`
	Reason     RejectReason      `json:"reason,omitempty"`
	Asset      AssetLabel        `json:"asset"`
	Categories []ContextCategory `json:"categories,omitempty"`
	// Fragments are structured price lines (bullets, table rows,
	// key-value lines) that mention a main term and no exclusion term.
	Fragments []string `json:"fragments,omitempty"`

	// ObservedAt is when this copy of the article entered the pipeline.
	// The dedup keep-latest policy compares it.
	ObservedAt time.Time `json:"observed_at"`
}

// Accepted reports whether the article survived triage.
func (a ClassifiedArticle) Accepted() bool {
	return a.Verdict == VerdictAccepted
}
