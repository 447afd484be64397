package store

import (
	"context"
	"errors"
	"time"

	"github.com/arbor-commodities/sugarwire/internal/model"
)

// RunFilter specifies criteria for listing ingest runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ArticleFilter specifies criteria for listing stored articles.
type ArticleFilter struct {
	SourceID string    `json:"source_id,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Until    time.Time `json:"until,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Articles. UpsertArticles writes a batch keyed by content hash in a
	// single transaction; re-running a window is idempotent.
	UpsertArticles(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error)
	CountArticles(ctx context.Context) (int, error)
	ListArticles(ctx context.Context, filter ArticleFilter) ([]model.ClassifiedArticle, error)

	// Rejection audit trail, insert-only.
	RecordRejections(ctx context.Context, runID string, articles []model.ClassifiedArticle) (int, error)

	// Runs
	CreateRun(ctx context.Context, run *model.IngestRun) error
	FinishRun(ctx context.Context, run *model.IngestRun) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CommitError marks a persistence failure during run finalization. The run
// loop treats it as permanent and leaves checkpoints on disk so the run can
// be replayed once the store recovers.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "store: commit failed: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsCommitError reports whether err is (or wraps) a CommitError.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
