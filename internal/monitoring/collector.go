// Package monitoring summarizes ingest run outcomes for the status server.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsInterrupted int     `json:"runs_interrupted"`
	RunsRunning     int     `json:"runs_running"`
	RunFailRate     float64 `json:"run_fail_rate"`

	// Article flow totals across the window's runs.
	Fetched    int `json:"fetched"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
	Persisted  int `json:"persisted"`

	// AcceptRate is accepted/fetched over the window.
	AcceptRate float64 `json:"accept_rate"`

	// StoredArticles is the current article count, not windowed.
	StoredArticles int `json:"stored_articles"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the article store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusInterrupted:
			snap.RunsInterrupted++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.Fetched += r.Fetched
		snap.Accepted += r.Accepted
		snap.Rejected += r.Rejected
		snap.Duplicates += r.Duplicates
		snap.Persisted += r.Persisted
	}

	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Fetched > 0 {
		snap.AcceptRate = float64(snap.Accepted) / float64(snap.Fetched)
	}

	count, err := c.store.CountArticles(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count articles")
	}
	snap.StoredArticles = count

	return snap, nil
}
