package ingest

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/quota"
	"github.com/arbor-commodities/sugarwire/internal/resilience"
	"github.com/arbor-commodities/sugarwire/internal/schedule"
	"github.com/arbor-commodities/sugarwire/pkg/opoint"
)

// ResidualSourceID labels the broad query that sweeps up articles from
// sites outside the prioritized catalog.
const ResidualSourceID = "residual"

const (
	defaultWorkers  = 3
	defaultPageSize = 100
)

// OrchestratorOptions tunes the per-window fetch.
type OrchestratorOptions struct {
	// Workers bounds concurrent provider calls. Default 3.
	Workers int
	// PageSize is the max articles requested per provider call. Default 100.
	PageSize int
	// ResidualQuota bounds the broad non-prioritized query. 0 disables it.
	ResidualQuota int
	Retry         resilience.RetryConfig
}

// Orchestrator fetches one window at a time: one task per source bounded
// by its quota, plus a residual broad query, over a fixed-size worker pool.
type Orchestrator struct {
	client  opoint.Client
	sources []model.Source
	plan    quota.Plan
	opts    OrchestratorOptions
}

// SourceUtilization reports one source's fetch outcome within a window.
type SourceUtilization struct {
	SourceID string `json:"source_id"`
	Quota    int    `json:"quota"`
	Fetched  int    `json:"fetched"`
	Failed   bool   `json:"failed,omitempty"`
}

// WindowResult is the merged outcome of all fetch tasks for one window.
// A failed task contributes its partial articles and a Failed marker;
// it never aborts the window.
type WindowResult struct {
	Window   schedule.Window
	Articles []model.RawArticle
	Sources  []SourceUtilization
}

// fetchResult is what one task hands back to the merging loop. Tasks
// never write shared state directly.
type fetchResult struct {
	sourceID string
	quota    int
	articles []model.RawArticle
	err      error
}

// NewOrchestrator builds an orchestrator for the given catalog and plan.
func NewOrchestrator(client opoint.Client, sources []model.Source, plan quota.Plan, opts OrchestratorOptions) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.ResidualQuota < 0 {
		opts.ResidualQuota = 0
	}
	return &Orchestrator{client: client, sources: sources, plan: plan, opts: opts}
}

// FetchWindow processes one window: every source up to its quota plus the
// residual broad query. Task failures are recorded per source, never
// propagated.
func (o *Orchestrator) FetchWindow(ctx context.Context, win schedule.Window) WindowResult {
	tasks := 0
	for _, src := range o.sources {
		if o.plan[src.ID] > 0 {
			tasks++
		}
	}
	if o.opts.ResidualQuota > 0 {
		tasks++
	}

	results := make(chan fetchResult, tasks)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for _, src := range o.sources {
		q := o.plan[src.ID]
		if q <= 0 {
			continue
		}
		g.Go(func() error {
			articles, err := o.fetchSource(gCtx, win, q, opoint.Query{SiteID: src.SiteID}, src.ID, src.Name)
			results <- fetchResult{sourceID: src.ID, quota: q, articles: articles, err: err}
			return nil
		})
	}

	if o.opts.ResidualQuota > 0 {
		exclude := make([]string, 0, len(o.sources))
		for _, src := range o.sources {
			exclude = append(exclude, src.SiteID)
		}
		g.Go(func() error {
			articles, err := o.fetchSource(gCtx, win, o.opts.ResidualQuota,
				opoint.Query{ExcludeSiteIDs: exclude}, "", "")
			results <- fetchResult{sourceID: ResidualSourceID, quota: o.opts.ResidualQuota, articles: articles, err: err}
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	out := WindowResult{Window: win}
	for res := range results {
		out.Articles = append(out.Articles, res.articles...)
		util := SourceUtilization{
			SourceID: res.sourceID,
			Quota:    res.quota,
			Fetched:  len(res.articles),
			Failed:   res.err != nil,
		}
		out.Sources = append(out.Sources, util)
		if res.err != nil {
			zap.L().Warn("ingest: source task failed, skipping for this window",
				zap.String("source", res.sourceID),
				zap.String("window", win.String()),
				zap.Error(res.err),
			)
		}
	}
	sort.Slice(out.Sources, func(i, j int) bool {
		return out.Sources[i].SourceID < out.Sources[j].SourceID
	})
	return out
}

// fetchSource paginates provider calls until the quota is met or the
// provider signals exhaustion. Partial results survive a failed page.
func (o *Orchestrator) fetchSource(ctx context.Context, win schedule.Window, q int, base opoint.Query, sourceID, sourceName string) ([]model.RawArticle, error) {
	var out []model.RawArticle
	offset := 0

	for len(out) < q {
		query := base
		query.Oldest = win.Start
		query.Newest = win.End
		query.Requested = min(o.opts.PageSize, q-len(out))
		query.Offset = offset

		page, err := resilience.DoVal(ctx, o.opts.Retry, func(ctx context.Context) (*opoint.SearchResult, error) {
			return o.client.SearchArticles(ctx, query)
		})
		if err != nil {
			return out, err
		}

		for _, doc := range page.Documents {
			out = append(out, docToRaw(doc, sourceID, sourceName))
		}
		offset += len(page.Documents)
		if page.Exhausted {
			break
		}
	}
	return out, nil
}

// docToRaw converts a provider document, cleaning residual markup and
// normalizing text. Residual-query documents keep the provider's own site
// identity.
func docToRaw(doc opoint.Document, sourceID, sourceName string) model.RawArticle {
	if sourceID == "" {
		sourceID = ResidualSourceID + ":" + doc.SiteID
		sourceName = doc.SiteName
	}
	return model.RawArticle{
		Title:           Normalize(CleanHTML(doc.Header)),
		Body:            Normalize(CleanHTML(doc.Text)),
		SourceID:        sourceID,
		SourceName:      sourceName,
		PublishedAt:     time.Unix(doc.UnixTimestamp, 0).UTC(),
		Meta:            doc.Meta,
		PreFilterPassed: doc.TopicMatched,
	}
}
