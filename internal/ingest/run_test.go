package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-commodities/sugarwire/internal/checkpoint"
	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/store"
	"github.com/arbor-commodities/sugarwire/pkg/opoint"
)

// testNow is a Monday 00:00 UTC so weekly windows land exactly on
// boundaries.
var testNow = time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

func horizonStart(weeks int) time.Time {
	return testNow.Add(-time.Duration(weeks) * 7 * 24 * time.Hour)
}

// backfillProvider serves one accepted and one rejected document per
// source per window, with headers unique to (source, window).
func backfillProvider(weeks int, onCall func(q opoint.Query)) *fakeProvider {
	start := horizonStart(weeks)
	return &fakeProvider{
		onCall: onCall,
		docs: func(q opoint.Query) []opoint.Document {
			if q.SiteID == "" {
				return nil
			}
			week := int(q.Oldest.Sub(start) / (7 * 24 * time.Hour))
			published := q.Oldest.Add(time.Hour)
			return []opoint.Document{
				sugarDoc(q.SiteID, fmt.Sprintf("Sugar prices climb week %d site %s", week, q.SiteID), published),
				{
					Header:        fmt.Sprintf("Copper rallies week %d site %s", week, q.SiteID),
					Text:          "Copper prices rally on supply concerns in global metal markets.",
					SiteID:        q.SiteID,
					UnixTimestamp: published.Unix(),
					TopicMatched:  true,
				},
			}
		},
	}
}

func newTestRunner(t *testing.T, client opoint.Client, st store.Store, ckptDir string, weeks int, resume bool) *Runner {
	t.Helper()
	mgr, err := checkpoint.NewManager(ckptDir)
	require.NoError(t, err)

	r := NewRunner(RunnerParams{
		Client:      client,
		Store:       st,
		Checkpoints: mgr,
		Sources:     testSources(),
		Config: RunnerConfig{
			WeeksBack:    weeks,
			WindowBudget: 10,
			QuotaFloor:   2,
			Workers:      2,
			PageSize:     10,
			Retry:        noRetry(),
			Resume:       resume,
		},
	})
	r.Now = func() time.Time { return testNow }
	return r
}

func newRunStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func storedHashes(t *testing.T, st store.Store) map[string]bool {
	t.Helper()
	articles, err := st.ListArticles(context.Background(), store.ArticleFilter{Limit: 1000})
	require.NoError(t, err)
	hashes := make(map[string]bool, len(articles))
	for _, a := range articles {
		hashes[a.ContentHash] = true
	}
	return hashes
}

func TestRun_Complete(t *testing.T) {
	st := newRunStore(t)
	runner := newTestRunner(t, backfillProvider(4, nil), st, t.TempDir(), 4, false)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 4, run.Windows)
	// 2 sources x 2 docs x 4 windows.
	assert.Equal(t, 16, run.Fetched)
	assert.Equal(t, 8, run.Accepted)
	assert.Equal(t, 8, run.Rejected)
	assert.Equal(t, 0, run.Duplicates)
	assert.Equal(t, 8, run.Persisted)
	require.NotNil(t, run.FinishedAt)

	count, err := st.CountArticles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, stored.Status)
}

func TestRun_ClearsCheckpoints(t *testing.T) {
	ckptDir := t.TempDir()
	runner := newTestRunner(t, backfillProvider(2, nil), newRunStore(t), ckptDir, 2, false)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	mgr, err := checkpoint.NewManager(ckptDir)
	require.NoError(t, err)
	snap, err := mgr.Latest()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRun_ConfigurationError(t *testing.T) {
	st := newRunStore(t)
	mgr, err := checkpoint.NewManager(t.TempDir())
	require.NoError(t, err)

	r := NewRunner(RunnerParams{
		Client:      backfillProvider(2, nil),
		Store:       st,
		Checkpoints: mgr,
		Sources:     testSources(),
		Config: RunnerConfig{
			WeeksBack:    2,
			WindowBudget: 3,
			QuotaFloor:   2, // floor x 2 sources > budget
			Retry:        noRetry(),
		},
	})
	r.Now = func() time.Time { return testNow }

	_, err = r.Run(context.Background())
	require.Error(t, err)

	// Nothing fetched, no run recorded.
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

type failingStore struct {
	store.Store
}

func (f *failingStore) UpsertArticles(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error) {
	return 0, eris.New("db down")
}

func TestRun_CommitFailureKeepsCheckpoints(t *testing.T) {
	ckptDir := t.TempDir()
	st := &failingStore{Store: newRunStore(t)}
	runner := newTestRunner(t, backfillProvider(2, nil), st, ckptDir, 2, false)

	run, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsCommitError(err))
	assert.Equal(t, model.RunStatusFailed, run.Status)

	// Checkpoints stay on disk for a later resume.
	mgr, err := checkpoint.NewManager(ckptDir)
	require.NoError(t, err)
	snap, err := mgr.Latest()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.NextWindow)
}

func TestRun_InterruptAndResume(t *testing.T) {
	const weeks = 10
	start := horizonStart(weeks)

	// Reference: uninterrupted run over all 10 windows.
	refStore := newRunStore(t)
	refRunner := newTestRunner(t, backfillProvider(weeks, nil), refStore, t.TempDir(), weeks, false)
	refRun, err := refRunner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.RunStatusComplete, refRun.Status)
	want := storedHashes(t, refStore)
	require.Len(t, want, weeks*2)

	// Interrupted run: cancel as soon as window 3 is queried.
	ckptDir := t.TempDir()
	st := newRunStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := backfillProvider(weeks, func(q opoint.Query) {
		if int(q.Oldest.Sub(start)/(7*24*time.Hour)) >= 3 {
			cancel()
		}
	})
	runner := newTestRunner(t, provider, st, ckptDir, weeks, false)

	run, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusInterrupted, run.Status)

	// Checkpoint covers exactly the committed windows 0..2.
	mgr, err := checkpoint.NewManager(ckptDir)
	require.NoError(t, err)
	snap, err := mgr.Latest()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.NextWindow)
	assert.Len(t, snap.Articles, 3*2)

	// Nothing persisted before finalize.
	count, err := st.CountArticles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Resume with the same configuration completes the remaining windows.
	resumed := newTestRunner(t, backfillProvider(weeks, nil), st, ckptDir, weeks, true)
	resumedRun, err := resumed.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, resumedRun.Status)
	assert.True(t, resumedRun.Resumed)
	// Only windows 3..9 were fetched on resume.
	assert.Equal(t, 7*4, resumedRun.Fetched)

	// Final output identical to the uninterrupted run.
	assert.Equal(t, want, storedHashes(t, st))
}

func TestRun_CountsDuplicates(t *testing.T) {
	// The same story from the same source in every window: dedup keeps
	// one copy per source and counts the rest as duplicates.
	provider := &fakeProvider{
		docs: func(q opoint.Query) []opoint.Document {
			if q.SiteID == "" {
				return nil
			}
			return []opoint.Document{
				sugarDoc(q.SiteID, "Sugar prices steady", q.Oldest.Add(time.Hour)),
			}
		},
	}

	st := newRunStore(t)
	runner := newTestRunner(t, provider, st, t.TempDir(), 3, false)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)

	// 2 sources x 3 windows fetched, 1 survivor per source.
	assert.Equal(t, 6, run.Fetched)
	assert.Equal(t, 6, run.Accepted)
	assert.Equal(t, 4, run.Duplicates)
	assert.Equal(t, 2, run.Persisted)
}

func TestRun_ResumeAfterClockAdvance(t *testing.T) {
	const weeks = 10
	start := horizonStart(weeks)

	// Reference: uninterrupted run.
	refStore := newRunStore(t)
	refRunner := newTestRunner(t, backfillProvider(weeks, nil), refStore, t.TempDir(), weeks, false)
	_, err := refRunner.Run(context.Background())
	require.NoError(t, err)
	want := storedHashes(t, refStore)

	// Interrupt as soon as window 3 is queried.
	ckptDir := t.TempDir()
	st := newRunStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := backfillProvider(weeks, func(q opoint.Query) {
		if int(q.Oldest.Sub(start)/(7*24*time.Hour)) >= 3 {
			cancel()
		}
	})
	runner := newTestRunner(t, provider, st, ckptDir, weeks, false)
	run, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusInterrupted, run.Status)

	// Resume a week later. The schedule must replay from the
	// checkpointed horizon; replanning from the new clock would shift
	// every window index one week and re-fetch or skip committed dates.
	resumed := newTestRunner(t, backfillProvider(weeks, nil), st, ckptDir, weeks, true)
	resumed.Now = func() time.Time { return testNow.Add(7 * 24 * time.Hour) }

	resumedRun, err := resumed.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, resumedRun.Status)
	assert.True(t, resumedRun.Resumed)
	assert.Equal(t, 7*4, resumedRun.Fetched)
	assert.Equal(t, start, resumedRun.HorizonStart)
	assert.Equal(t, want, storedHashes(t, st))
}

func TestRun_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	st := newRunStore(t)
	runner := newTestRunner(t, backfillProvider(2, nil), st, t.TempDir(), 2, true)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.False(t, run.Resumed)
	assert.Equal(t, 8, run.Fetched)
}

func TestRun_RecordsRejections(t *testing.T) {
	st := newRunStore(t)
	runner := newTestRunner(t, backfillProvider(2, nil), st, t.TempDir(), 2, false)

	run, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, run.Rejected)
}
