package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/checkpoint"
	"github.com/arbor-commodities/sugarwire/internal/dedup"
	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/quota"
	"github.com/arbor-commodities/sugarwire/internal/resilience"
	"github.com/arbor-commodities/sugarwire/internal/schedule"
	"github.com/arbor-commodities/sugarwire/internal/store"
	"github.com/arbor-commodities/sugarwire/internal/triage"
	"github.com/arbor-commodities/sugarwire/pkg/opoint"
)

// RunnerConfig holds the knobs for one backfill run.
type RunnerConfig struct {
	// WeeksBack is the backfill horizon in weekly windows. Default 12.
	WeeksBack int
	// WindowBudget is the total article budget per window, split across
	// sources by the quota allocator. Default 200.
	WindowBudget int
	// QuotaFloor is the minimum articles reserved per source. Default 2.
	QuotaFloor int

	Workers       int
	PageSize      int
	ResidualQuota int
	Retry         resilience.RetryConfig

	// Resume restores the latest checkpoint instead of starting fresh.
	Resume bool

	DedupThreshold float64
	KeepEarliest   bool

	// Quality gate bounds, passed through to the classifier.
	TriageMinLength int
	TriageMaxLength int
}

const (
	defaultWeeksBack    = 12
	defaultWindowBudget = 200
	defaultQuotaFloor   = 2
)

// RunnerParams wires a Runner's collaborators.
type RunnerParams struct {
	Client      opoint.Client
	Store       store.Store
	Checkpoints *checkpoint.Manager
	Sources     []model.Source
	Config      RunnerConfig
}

// Runner owns the orchestration loop: windows strictly oldest to newest,
// the accumulation set mutated only here, a checkpoint after every window.
type Runner struct {
	client      opoint.Client
	store       store.Store
	checkpoints *checkpoint.Manager
	sources     []model.Source
	classifier  *triage.Classifier
	deduper     *dedup.Engine
	cfg         RunnerConfig

	// Now is the clock used to derive the backfill horizon. Overridable
	// in tests.
	Now func() time.Time
}

// NewRunner builds a Runner, applying config defaults.
func NewRunner(p RunnerParams) *Runner {
	cfg := p.Config
	if cfg.WeeksBack <= 0 {
		cfg.WeeksBack = defaultWeeksBack
	}
	if cfg.WindowBudget <= 0 {
		cfg.WindowBudget = defaultWindowBudget
	}
	if cfg.QuotaFloor <= 0 {
		cfg.QuotaFloor = defaultQuotaFloor
	}
	return &Runner{
		client:      p.Client,
		store:       p.Store,
		checkpoints: p.Checkpoints,
		sources:     p.Sources,
		classifier: triage.New(triage.Options{
			MinLength: cfg.TriageMinLength,
			MaxLength: cfg.TriageMaxLength,
		}),
		deduper: dedup.New(dedup.Options{
			Threshold:    cfg.DedupThreshold,
			KeepEarliest: cfg.KeepEarliest,
		}),
		cfg: cfg,
		Now: time.Now,
	}
}

// Plan computes the window schedule and quota plan without fetching
// anything. The quota error is the configuration error surface: a floor
// over budget aborts before any provider call.
func (r *Runner) Plan() ([]schedule.Window, quota.Plan, error) {
	return r.plan(r.Now().UTC())
}

// plan derives the schedule from an explicit horizon clock. Resume passes
// the interrupted run's clock so window indexes map to the same dates.
func (r *Runner) plan(horizon time.Time) ([]schedule.Window, quota.Plan, error) {
	windows, err := schedule.Weekly(horizon, r.cfg.WeeksBack)
	if err != nil {
		return nil, nil, err
	}
	plan, err := quota.Allocate(r.sources, r.cfg.WindowBudget, r.cfg.QuotaFloor)
	if err != nil {
		return nil, nil, err
	}
	return windows, plan, nil
}

// Run executes the backfill. Interruption via ctx is graceful: the run
// stops at a window boundary with the latest checkpoint on disk and the
// run record marked interrupted. A store commit failure at finalize
// returns a CommitError and leaves checkpoints in place.
func (r *Runner) Run(ctx context.Context) (*model.IngestRun, error) {
	horizon := r.Now().UTC()

	var accumulated []model.ClassifiedArticle
	next := 0
	resumed := false

	if r.cfg.Resume {
		snap, err := r.checkpoints.Latest()
		if err != nil {
			return nil, eris.Wrap(err, "ingest: read checkpoint for resume")
		}
		if snap != nil {
			accumulated = snap.Articles
			next = snap.NextWindow
			resumed = true
			if !snap.Horizon.IsZero() {
				horizon = snap.Horizon
			}
			zap.L().Info("ingest: resuming from checkpoint",
				zap.String("checkpoint_run", snap.RunID),
				zap.Time("horizon", horizon),
				zap.Int("next_window", next),
				zap.Int("accumulated", len(accumulated)),
			)
		}
	}

	windows, plan, err := r.plan(horizon)
	if err != nil {
		return nil, err
	}

	run := &model.IngestRun{
		ID:           uuid.New().String(),
		Status:       model.RunStatusRunning,
		HorizonStart: windows[0].Start,
		HorizonEnd:   windows[len(windows)-1].End,
		Windows:      len(windows),
		Resumed:      resumed,
		StartedAt:    time.Now().UTC(),
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	orch := NewOrchestrator(r.client, r.sources, plan, OrchestratorOptions{
		Workers:       r.cfg.Workers,
		PageSize:      r.cfg.PageSize,
		ResidualQuota: r.cfg.ResidualQuota,
		Retry:         r.cfg.Retry,
	})

	for i := next; i < len(windows); i++ {
		if ctx.Err() != nil {
			return r.interrupt(run, i)
		}

		res := orch.FetchWindow(ctx, windows[i])
		if ctx.Err() != nil {
			// The window was cut short; its results are not committed.
			return r.interrupt(run, i)
		}

		accepted, rejected := r.classifyWindow(ctx, run, res)
		accumulated = append(accumulated, accepted...)

		run.Fetched += len(res.Articles)
		run.Accepted += len(accepted)
		run.Rejected += len(rejected)

		zap.L().Info("ingest: window committed",
			zap.String("window", res.Window.String()),
			zap.Int("index", i),
			zap.Int("fetched", len(res.Articles)),
			zap.Int("accepted", len(accepted)),
			zap.Int("rejected", len(rejected)),
			zap.Any("utilization", res.Sources),
		)

		if err := r.checkpoints.Save(&checkpoint.Snapshot{
			RunID:      run.ID,
			Horizon:    horizon,
			NextWindow: i + 1,
			Articles:   accumulated,
		}); err != nil {
			zap.L().Warn("ingest: checkpoint write failed, continuing",
				zap.Int("window", i),
				zap.Error(err),
			)
		}
	}

	return r.finalize(ctx, run, accumulated)
}

// classifyWindow runs triage over a window's fetch result and records the
// rejection audit trail. Classification never fails a window.
func (r *Runner) classifyWindow(ctx context.Context, run *model.IngestRun, res WindowResult) (accepted, rejected []model.ClassifiedArticle) {
	observedAt := time.Now().UTC()
	for _, raw := range res.Articles {
		classified := r.classifier.Classify(raw, observedAt)
		if classified.Accepted() {
			accepted = append(accepted, classified)
		} else {
			rejected = append(rejected, classified)
		}
	}

	if _, err := r.store.RecordRejections(ctx, run.ID, rejected); err != nil {
		zap.L().Warn("ingest: rejection audit write failed",
			zap.String("window", res.Window.String()),
			zap.Error(err),
		)
	}
	return accepted, rejected
}

// finalize dedupes the accumulation set, commits survivors in one batch,
// and clears checkpoint artifacts only after the commit succeeds.
func (r *Runner) finalize(ctx context.Context, run *model.IngestRun, accumulated []model.ClassifiedArticle) (*model.IngestRun, error) {
	result := r.deduper.Dedupe(accumulated)
	run.Duplicates = result.Dropped
	dedup.SortByObserved(result.Kept)

	persisted, err := r.store.UpsertArticles(ctx, run.ID, result.Kept)
	if err != nil {
		run.Status = model.RunStatusFailed
		r.finishRun(ctx, run)
		return run, &store.CommitError{Err: err}
	}
	run.Persisted = persisted

	if err := r.checkpoints.Clear(); err != nil {
		zap.L().Warn("ingest: checkpoint cleanup failed", zap.Error(err))
	}

	run.Status = model.RunStatusComplete
	r.finishRun(ctx, run)

	zap.L().Info("ingest: run finalized",
		zap.String("run", run.ID),
		zap.Int("fetched", run.Fetched),
		zap.Int("accepted", run.Accepted),
		zap.Int("rejected", run.Rejected),
		zap.Int("duplicates", run.Duplicates),
		zap.Int("persisted", run.Persisted),
	)
	return run, nil
}

// interrupt ends the run at a window boundary. The latest checkpoint,
// covering only fully-committed windows, stays on disk as the recovery
// point.
func (r *Runner) interrupt(run *model.IngestRun, window int) (*model.IngestRun, error) {
	run.Status = model.RunStatusInterrupted
	// A fresh context: the run's own context is already canceled.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.finishRun(finishCtx, run)

	zap.L().Warn("ingest: run interrupted, resume with --resume",
		zap.String("run", run.ID),
		zap.Int("next_window", window),
	)
	return run, nil
}

func (r *Runner) finishRun(ctx context.Context, run *model.IngestRun) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := r.store.FinishRun(ctx, run); err != nil {
		zap.L().Warn("ingest: run record update failed",
			zap.String("run", run.ID),
			zap.Error(err),
		)
	}
}
