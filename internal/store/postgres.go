package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/arbor-commodities/sugarwire/internal/db"
	"github.com/arbor-commodities/sugarwire/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":     `INSERT INTO runs (id, status, horizon_start, horizon_end, windows, resumed, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"finish_run":     `UPDATE runs SET status = $1, fetched = $2, accepted = $3, rejected = $4, duplicates = $5, persisted = $6, finished_at = $7 WHERE id = $8`,
	"get_run":        `SELECT id, status, horizon_start, horizon_end, windows, resumed, fetched, accepted, rejected, duplicates, persisted, started_at, finished_at FROM runs WHERE id = $1`,
	"count_articles": `SELECT COUNT(*) FROM articles`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used in tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS articles (
	content_hash TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	source_name  TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	meta         BYTEA,
	asset        TEXT NOT NULL,
	categories   JSONB,
	fragments    JSONB,
	observed_at  TIMESTAMPTZ NOT NULL,
	run_id       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'running',
	horizon_start TIMESTAMPTZ NOT NULL,
	horizon_end   TIMESTAMPTZ NOT NULL,
	windows       INTEGER NOT NULL DEFAULT 0,
	resumed       BOOLEAN NOT NULL DEFAULT false,
	fetched       INTEGER NOT NULL DEFAULT 0,
	accepted      INTEGER NOT NULL DEFAULT 0,
	rejected      INTEGER NOT NULL DEFAULT 0,
	duplicates    INTEGER NOT NULL DEFAULT 0,
	persisted     INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS rejections (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	reason       TEXT NOT NULL,
	title        TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_id);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var articleColumns = []string{
	"content_hash", "title", "body", "source_id", "source_name", "published_at",
	"meta", "asset", "categories", "fragments", "observed_at", "run_id", "updated_at",
}

func (s *PostgresStore) UpsertArticles(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(articles))
	for _, a := range articles {
		categories, fragments, err := marshalEnrichment(a)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			a.ContentHash, a.Title, a.Body, a.SourceID, a.SourceName, a.PublishedAt.UTC(),
			a.Meta, string(a.Asset), categories, fragments, a.ObservedAt.UTC(), runID, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "articles",
		Columns:      articleColumns,
		ConflictKeys: []string{"content_hash"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert articles")
	}
	return int(n), nil
}

func (s *PostgresStore) CountArticles(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count articles")
}

func (s *PostgresStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]model.ClassifiedArticle, error) {
	query := `SELECT content_hash, title, body, source_id, source_name, published_at,
	                 meta, asset, categories, fragments, observed_at
	          FROM articles WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SourceID != "" {
		query += fmt.Sprintf(` AND source_id = $%d`, argIdx)
		args = append(args, filter.SourceID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND published_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND published_at < $%d`, argIdx)
		args = append(args, filter.Until.UTC())
		argIdx++
	}
	query += ` ORDER BY published_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list articles")
	}
	defer rows.Close()

	var articles []model.ClassifiedArticle
	for rows.Next() {
		var a model.ClassifiedArticle
		var categories, fragments []byte
		if err := rows.Scan(&a.ContentHash, &a.Title, &a.Body, &a.SourceID, &a.SourceName,
			&a.PublishedAt, &a.Meta, &a.Asset, &categories, &fragments, &a.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan article")
		}
		if err := unmarshalEnrichment(string(categories), string(fragments), &a); err != nil {
			return nil, err
		}
		a.Verdict = model.VerdictAccepted
		articles = append(articles, a)
	}
	return articles, eris.Wrap(rows.Err(), "postgres: list articles iterate")
}

func (s *PostgresStore) RecordRejections(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error) {
	rows := make([][]any, 0, len(articles))
	for _, a := range articles {
		if a.Accepted() {
			continue
		}
		rows = append(rows, []any{
			runID, a.ContentHash, a.SourceID, string(a.Reason), a.Title, a.ObservedAt.UTC(),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := db.CopyFrom(ctx, s.pool, "rejections",
		[]string{"run_id", "content_hash", "source_id", "reason", "title", "observed_at"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: record rejections")
	}
	return int(n), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.IngestRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, horizon_start, horizon_end, windows, resumed, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Status), run.HorizonStart.UTC(), run.HorizonEnd.UTC(),
		run.Windows, run.Resumed, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.IngestRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, fetched = $2, accepted = $3, rejected = $4,
		                 duplicates = $5, persisted = $6, finished_at = $7
		 WHERE id = $8`,
		string(run.Status), run.Fetched, run.Accepted, run.Rejected,
		run.Duplicates, run.Persisted, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var r model.IngestRun
	var finishedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, horizon_start, horizon_end, windows, resumed,
		        fetched, accepted, rejected, duplicates, persisted, started_at, finished_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &r.HorizonStart, &r.HorizonEnd, &r.Windows, &r.Resumed,
		&r.Fetched, &r.Accepted, &r.Rejected, &r.Duplicates, &r.Persisted, &r.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.FinishedAt = finishedAt
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, status, horizon_start, horizon_end, windows, resumed,
	                 fetched, accepted, rejected, duplicates, persisted, started_at, finished_at
	          FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var finishedAt *time.Time
		if err := rows.Scan(&r.ID, &r.Status, &r.HorizonStart, &r.HorizonEnd, &r.Windows, &r.Resumed,
			&r.Fetched, &r.Accepted, &r.Rejected, &r.Duplicates, &r.Persisted, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.FinishedAt = finishedAt
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
