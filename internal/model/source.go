package model

// SourceCategory groups sources by publication type. Category weights for
// quota allocation are keyed by it.
type SourceCategory string

const (
	CategoryIndustryPublication SourceCategory = "industry_publication"
	CategoryCommodityAggregator SourceCategory = "commodity_aggregator"
	CategoryGovernment          SourceCategory = "government"
	CategoryTradePublication    SourceCategory = "trade_publication"
)

// KnownSourceCategories lists the valid catalog categories.
var KnownSourceCategories = []SourceCategory{
	CategoryIndustryPublication,
	CategoryCommodityAggregator,
	CategoryGovernment,
	CategoryTradePublication,
}

// Source is one entry of the immutable source catalog, loaded once per run.
type Source struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	SiteID   string         `yaml:"site_id" json:"site_id"`
	Category SourceCategory `yaml:"category" json:"category"`
	// Reliability is a score in [0,1] reflecting historical quality.
	Reliability float64 `yaml:"reliability" json:"reliability"`
	// Weight is the category weight in [0,1], resolved at catalog load.
	Weight float64 `yaml:"-" json:"weight"`
}

// Share is the raw quota share before normalization.
func (s Source) Share() float64 {
	return s.Weight * s.Reliability
}
