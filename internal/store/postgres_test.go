package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, horizon_start, horizon_end`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	finished := started.Add(20 * time.Minute)

	mock.ExpectQuery(`SELECT id, status, horizon_start, horizon_end`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "horizon_start", "horizon_end", "windows", "resumed",
			"fetched", "accepted", "rejected", "duplicates", "persisted", "started_at", "finished_at",
		}).AddRow(
			"run-1", "complete",
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
			13, false, 120, 45, 70, 5, 40, started, &finished,
		))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 13, run.Windows)
	assert.Equal(t, 40, run.Persisted)
	require.NotNil(t, run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	run := &model.IngestRun{
		ID:           "run-1",
		Status:       model.RunStatusRunning,
		HorizonStart: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		HorizonEnd:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Windows:      13,
		StartedAt:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(run.ID, "running", run.HorizonStart, run.HorizonEnd, 13, false, run.StartedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("complete", 0, 0, 0, 0, 0, (*time.Time)(nil), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.IngestRun{ID: "missing", Status: model.RunStatusComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountArticles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM articles`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.CountArticles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejections_SkipsAccepted(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rejected := testArticle("hash-r", "Copper surges")
	rejected.Verdict = model.VerdictRejected
	rejected.Reason = model.ReasonExcluded
	accepted := testArticle("hash-a", "Sugar prices climb")

	mock.ExpectCopyFrom(pgx.Identifier{"rejections"},
		[]string{"run_id", "content_hash", "source_id", "reason", "title", "observed_at"}).
		WillReturnResult(1)

	n, err := s.RecordRejections(context.Background(), "run-1", []model.ClassifiedArticle{rejected, accepted})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejections_AllAccepted(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	n, err := s.RecordRejections(context.Background(), "run-1",
		[]model.ClassifiedArticle{testArticle("hash-a", "Sugar prices climb")})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPostgresStore_UpsertArticles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_articles"}, articleColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "articles"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertArticles(context.Background(), "run-1", []model.ClassifiedArticle{
		testArticle("hash-a", "Sugar prices climb"),
		testArticle("hash-b", "Mill output steady"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertArticles_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	n, err := s.UpsertArticles(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, status, horizon_start, horizon_end`).
		WithArgs("running", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "horizon_start", "horizon_end", "windows", "resumed",
			"fetched", "accepted", "rejected", "duplicates", "persisted", "started_at", "finished_at",
		}).AddRow(
			"run-1", "running",
			time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
			13, false, 0, 0, 0, 0, 0, started, (*time.Time)(nil),
		))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
