package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS articles (
	content_hash TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	source_name  TEXT NOT NULL,
	published_at DATETIME NOT NULL,
	meta         BLOB,
	asset        TEXT NOT NULL,
	categories   TEXT,
	fragments    TEXT,
	observed_at  DATETIME NOT NULL,
	run_id       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'running',
	horizon_start DATETIME NOT NULL,
	horizon_end   DATETIME NOT NULL,
	windows       INTEGER NOT NULL DEFAULT 0,
	resumed       INTEGER NOT NULL DEFAULT 0,
	fetched       INTEGER NOT NULL DEFAULT 0,
	accepted      INTEGER NOT NULL DEFAULT 0,
	rejected      INTEGER NOT NULL DEFAULT 0,
	duplicates    INTEGER NOT NULL DEFAULT 0,
	persisted     INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME
);

CREATE TABLE IF NOT EXISTS rejections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	reason       TEXT NOT NULL,
	title        TEXT NOT NULL,
	observed_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_id);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertArticles(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO articles
			(content_hash, title, body, source_id, source_name, published_at,
			 meta, asset, categories, fragments, observed_at, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			title = excluded.title, body = excluded.body,
			source_name = excluded.source_name, published_at = excluded.published_at,
			meta = excluded.meta, asset = excluded.asset,
			categories = excluded.categories, fragments = excluded.fragments,
			observed_at = excluded.observed_at, run_id = excluded.run_id,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, a := range articles {
		categories, fragments, err := marshalEnrichment(a)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			a.ContentHash, a.Title, a.Body, a.SourceID, a.SourceName, a.PublishedAt.UTC(),
			a.Meta, string(a.Asset), categories, fragments, a.ObservedAt.UTC(), runID, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert article %s", a.ContentHash)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return len(articles), nil
}

func (s *SQLiteStore) CountArticles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count articles")
}

func (s *SQLiteStore) ListArticles(ctx context.Context, filter ArticleFilter) ([]model.ClassifiedArticle, error) {
	query := `SELECT content_hash, title, body, source_id, source_name, published_at,
	                 meta, asset, categories, fragments, observed_at
	          FROM articles WHERE 1=1`
	var args []any

	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if !filter.Since.IsZero() {
		query += ` AND published_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND published_at < ?`
		args = append(args, filter.Until.UTC())
	}
	query += ` ORDER BY published_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list articles")
	}
	defer rows.Close()

	var articles []model.ClassifiedArticle
	for rows.Next() {
		var a model.ClassifiedArticle
		var categories, fragments sql.NullString
		if err := rows.Scan(&a.ContentHash, &a.Title, &a.Body, &a.SourceID, &a.SourceName,
			&a.PublishedAt, &a.Meta, &a.Asset, &categories, &fragments, &a.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan article")
		}
		if err := unmarshalEnrichment(categories.String, fragments.String, &a); err != nil {
			return nil, err
		}
		a.Verdict = model.VerdictAccepted
		articles = append(articles, a)
	}
	return articles, eris.Wrap(rows.Err(), "sqlite: list articles iterate")
}

func (s *SQLiteStore) RecordRejections(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin rejections tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rejections (run_id, content_hash, source_id, reason, title, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare rejections")
	}
	defer stmt.Close()

	n := 0
	for _, a := range articles {
		if a.Accepted() {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			runID, a.ContentHash, a.SourceID, string(a.Reason), a.Title, a.ObservedAt.UTC(),
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert rejection")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit rejections tx")
	}
	return n, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.IngestRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, horizon_start, horizon_end, windows, resumed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.HorizonStart.UTC(), run.HorizonEnd.UTC(),
		run.Windows, run.Resumed, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.IngestRun) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, fetched = ?, accepted = ?, rejected = ?,
		                duplicates = ?, persisted = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), run.Fetched, run.Accepted, run.Rejected,
		run.Duplicates, run.Persisted, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, horizon_start, horizon_end, windows, resumed,
		        fetched, accepted, rejected, duplicates, persisted, started_at, finished_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT id, status, horizon_start, horizon_end, windows, resumed,
	                 fetched, accepted, rejected, duplicates, persisted, started_at, finished_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.IngestRun, error) {
	var r model.IngestRun
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &r.HorizonStart, &r.HorizonEnd, &r.Windows, &r.Resumed,
		&r.Fetched, &r.Accepted, &r.Rejected, &r.Duplicates, &r.Persisted, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func marshalEnrichment(a model.ClassifiedArticle) (categories, fragments []byte, err error) {
	if len(a.Categories) > 0 {
		categories, err = json.Marshal(a.Categories)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal categories")
		}
	}
	if len(a.Fragments) > 0 {
		fragments, err = json.Marshal(a.Fragments)
		if err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal fragments")
		}
	}
	return categories, fragments, nil
}

func unmarshalEnrichment(categories, fragments string, a *model.ClassifiedArticle) error {
	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &a.Categories); err != nil {
			return eris.Wrap(err, "store: unmarshal categories")
		}
	}
	if fragments != "" {
		if err := json.Unmarshal([]byte(fragments), &a.Fragments); err != nil {
			return eris.Wrap(err, "store: unmarshal fragments")
		}
	}
	return nil
}
