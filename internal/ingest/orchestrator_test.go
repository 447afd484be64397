package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/quota"
	"github.com/arbor-commodities/sugarwire/internal/resilience"
	"github.com/arbor-commodities/sugarwire/internal/schedule"
	"github.com/arbor-commodities/sugarwire/pkg/opoint"
)

// fakeProvider serves deterministic documents keyed by query. Safe for
// concurrent use by the worker pool.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	// docs returns the full result set for a query; pagination is applied
	// on top.
	docs func(q opoint.Query) []opoint.Document
	// fail marks site IDs whose calls always error.
	fail map[string]error
	// onCall observes every call, before any error handling.
	onCall func(q opoint.Query)
}

func (f *fakeProvider) SearchArticles(_ context.Context, q opoint.Query) (*opoint.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	if f.onCall != nil {
		f.onCall(q)
	}
	f.mu.Unlock()

	if err, ok := f.fail[q.SiteID]; ok {
		return nil, err
	}

	all := f.docs(q)
	start := q.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + q.Requested
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]

	return &opoint.SearchResult{
		Documents: page,
		Total:     len(all),
		Exhausted: end >= len(all),
	}, nil
}

func testSources() []model.Source {
	return []model.Source{
		{ID: "ice-futures", Name: "ICE Futures", SiteID: "100", Category: model.CategoryCommodityAggregator, Reliability: 0.95, Weight: 1.0},
		{ID: "usda", Name: "USDA", SiteID: "200", Category: model.CategoryGovernment, Reliability: 0.9, Weight: 0.9},
	}
}

func sugarDoc(siteID, header string, published time.Time) opoint.Document {
	return opoint.Document{
		Header:        header,
		Text:          "Raw sugar futures extended gains on tight global supply.",
		SiteID:        siteID,
		SiteName:      "site " + siteID,
		UnixTimestamp: published.Unix(),
		TopicMatched:  true,
	}
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

func TestFetchWindow(t *testing.T) {
	sources := testSources()
	win := schedule.Window{
		Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	provider := &fakeProvider{
		docs: func(q opoint.Query) []opoint.Document {
			if q.SiteID == "" {
				return nil // residual disabled in this test anyway
			}
			return []opoint.Document{
				sugarDoc(q.SiteID, "Sugar prices climb "+q.SiteID, win.Start.Add(time.Hour)),
				sugarDoc(q.SiteID, "Mill output steady "+q.SiteID, win.Start.Add(2*time.Hour)),
			}
		},
	}

	plan := quota.Plan{"ice-futures": 5, "usda": 5}
	orch := NewOrchestrator(provider, sources, plan, OrchestratorOptions{
		Workers: 2, PageSize: 10, Retry: noRetry(),
	})

	res := orch.FetchWindow(context.Background(), win)
	assert.Len(t, res.Articles, 4)
	require.Len(t, res.Sources, 2)

	// Utilization sorted by source ID.
	assert.Equal(t, "ice-futures", res.Sources[0].SourceID)
	assert.Equal(t, 2, res.Sources[0].Fetched)
	assert.Equal(t, 5, res.Sources[0].Quota)
	assert.False(t, res.Sources[0].Failed)

	for _, a := range res.Articles {
		assert.True(t, win.Contains(a.PublishedAt))
		assert.True(t, a.PreFilterPassed)
		assert.NotEmpty(t, a.SourceName)
	}
}

func TestFetchWindow_Pagination(t *testing.T) {
	sources := testSources()[:1]
	win := schedule.Window{
		Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	var all []opoint.Document
	for i := 0; i < 7; i++ {
		all = append(all, sugarDoc("100", "Sugar report", win.Start.Add(time.Duration(i)*time.Hour)))
	}
	provider := &fakeProvider{docs: func(q opoint.Query) []opoint.Document { return all }}

	orch := NewOrchestrator(provider, sources, quota.Plan{"ice-futures": 5}, OrchestratorOptions{
		Workers: 1, PageSize: 2, Retry: noRetry(),
	})

	res := orch.FetchWindow(context.Background(), win)
	// Quota caps the fetch below provider availability.
	assert.Len(t, res.Articles, 5)
	assert.Equal(t, 5, res.Sources[0].Fetched)
}

func TestFetchWindow_SourceFailureIsolated(t *testing.T) {
	sources := testSources()
	win := schedule.Window{
		Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	provider := &fakeProvider{
		docs: func(q opoint.Query) []opoint.Document {
			return []opoint.Document{sugarDoc(q.SiteID, "Sugar prices climb", win.Start.Add(time.Hour))}
		},
		fail: map[string]error{"100": eris.New("provider down")},
	}

	orch := NewOrchestrator(provider, sources, quota.Plan{"ice-futures": 5, "usda": 5}, OrchestratorOptions{
		Workers: 2, PageSize: 10, Retry: noRetry(),
	})

	res := orch.FetchWindow(context.Background(), win)
	require.Len(t, res.Sources, 2)
	assert.True(t, res.Sources[0].Failed)  // ice-futures
	assert.False(t, res.Sources[1].Failed) // usda
	assert.Len(t, res.Articles, 1)
}

func TestFetchWindow_ResidualQuery(t *testing.T) {
	sources := testSources()
	win := schedule.Window{
		Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	var sawExclude []string
	provider := &fakeProvider{
		docs: func(q opoint.Query) []opoint.Document {
			if q.SiteID != "" {
				return nil
			}
			return []opoint.Document{sugarDoc("999", "Sugar harvest news", win.Start.Add(time.Hour))}
		},
		onCall: func(q opoint.Query) {
			if q.SiteID == "" {
				sawExclude = q.ExcludeSiteIDs
			}
		},
	}

	orch := NewOrchestrator(provider, sources, quota.Plan{}, OrchestratorOptions{
		Workers: 1, PageSize: 10, ResidualQuota: 10, Retry: noRetry(),
	})

	res := orch.FetchWindow(context.Background(), win)
	require.Len(t, res.Articles, 1)
	assert.Equal(t, ResidualSourceID+":999", res.Articles[0].SourceID)
	assert.Equal(t, "site 999", res.Articles[0].SourceName)
	assert.ElementsMatch(t, []string{"100", "200"}, sawExclude)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, ResidualSourceID, res.Sources[0].SourceID)
}

func TestFetchWindow_SkipsZeroQuota(t *testing.T) {
	sources := testSources()
	provider := &fakeProvider{
		docs: func(q opoint.Query) []opoint.Document { return nil },
	}

	orch := NewOrchestrator(provider, sources, quota.Plan{"ice-futures": 3}, OrchestratorOptions{
		Workers: 1, PageSize: 10, Retry: noRetry(),
	})

	res := orch.FetchWindow(context.Background(), schedule.Window{
		Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC),
	})
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "ice-futures", res.Sources[0].SourceID)
	assert.Equal(t, 1, provider.calls)
}
