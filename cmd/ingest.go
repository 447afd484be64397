package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/checkpoint"
	"github.com/arbor-commodities/sugarwire/internal/ingest"
	"github.com/arbor-commodities/sugarwire/internal/quota"
	"github.com/arbor-commodities/sugarwire/internal/schedule"
	"github.com/arbor-commodities/sugarwire/pkg/opoint"
)

var (
	ingestDryRun        bool
	ingestResume        bool
	ingestKeepEarliest  bool
	ingestWeeksBack     int
	ingestWorkers       int
	ingestMaxArticles   int
	ingestCheckpointDir string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a historical backfill",
	Long:  "Fetches the weekly backfill windows oldest first, triages and deduplicates the results, and commits the survivors in one batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runnerCfg := ingestRunnerConfig()

		sources, err := loadSources()
		if err != nil {
			return eris.Wrap(err, "load source catalog")
		}

		if ingestDryRun {
			planner := ingest.NewRunner(ingest.RunnerParams{
				Sources: sources,
				Config:  runnerCfg,
			})
			windows, plan, err := planner.Plan()
			if err != nil {
				return eris.Wrap(err, "plan")
			}
			formatPlan(os.Stdout, windows, plan)
			return nil
		}

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ckptDir := ingestCheckpointDir
		if ckptDir == "" {
			ckptDir = cfg.Ingest.CheckpointDir
		}
		ckpts, err := checkpoint.NewManager(ckptDir)
		if err != nil {
			return eris.Wrap(err, "open checkpoint dir")
		}

		client := opoint.NewClient(cfg.Provider.Key,
			opoint.WithBaseURL(cfg.Provider.BaseURL),
			opoint.WithRateLimit(cfg.Provider.RatePerSec, cfg.Provider.RateBurst),
			opoint.WithTimeout(time.Duration(cfg.Provider.TimeoutSecs)*time.Second),
		)

		runner := ingest.NewRunner(ingest.RunnerParams{
			Client:      client,
			Store:       st,
			Checkpoints: ckpts,
			Sources:     sources,
			Config:      runnerCfg,
		})

		run, err := runner.Run(ctx)
		if err != nil {
			if run != nil {
				printRunJSON(run)
			}
			return eris.Wrap(err, "ingest run")
		}

		zap.L().Info("backfill finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("fetched", run.Fetched),
			zap.Int("persisted", run.Persisted),
		)

		return printRunJSON(run)
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "print the window schedule and quota plan without fetching")
	ingestCmd.Flags().BoolVar(&ingestResume, "resume", false, "resume from the latest checkpoint")
	ingestCmd.Flags().BoolVar(&ingestKeepEarliest, "keep-earliest", false, "keep the earliest-observed duplicate instead of the latest")
	ingestCmd.Flags().IntVar(&ingestWeeksBack, "weeks-back", 0, "backfill horizon in weeks (default from config)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "concurrent source fetches per window (default from config)")
	ingestCmd.Flags().IntVar(&ingestMaxArticles, "max-articles", 0, "max articles per provider request (default from config)")
	ingestCmd.Flags().StringVar(&ingestCheckpointDir, "checkpoint-dir", "", "checkpoint directory (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

// ingestRunnerConfig merges config file settings with command flags. Flags
// win when set.
func ingestRunnerConfig() ingest.RunnerConfig {
	rc := ingest.RunnerConfig{
		WeeksBack:      cfg.Ingest.WeeksBack,
		WindowBudget:   cfg.Ingest.WindowBudget,
		QuotaFloor:     cfg.Ingest.QuotaFloor,
		Workers:        cfg.Ingest.Workers,
		PageSize:       cfg.Ingest.MaxArticles,
		ResidualQuota:  cfg.Ingest.ResidualQuota,
		Resume:         ingestResume,
		DedupThreshold: cfg.Dedup.Threshold,
		KeepEarliest:   cfg.Dedup.KeepEarliest || ingestKeepEarliest,

		TriageMinLength: cfg.Triage.MinLength,
		TriageMaxLength: cfg.Triage.MaxLength,
	}
	if ingestWeeksBack > 0 {
		rc.WeeksBack = ingestWeeksBack
	}
	if ingestWorkers > 0 {
		rc.Workers = ingestWorkers
	}
	if ingestMaxArticles > 0 {
		rc.PageSize = ingestMaxArticles
	}
	return rc
}

// formatPlan writes the window schedule and per-source quota plan to w.
func formatPlan(out io.Writer, windows []schedule.Window, plan quota.Plan) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Windows:\t%d\n", len(windows))
	if len(windows) > 0 {
		_, _ = fmt.Fprintf(w, "Horizon:\t%s -> %s\n",
			windows[0].Start.Format("2006-01-02"),
			windows[len(windows)-1].End.Format("2006-01-02"),
		)
	}
	_, _ = fmt.Fprintf(w, "Budget per window:\t%d\n", plan.Total())
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	formatQuotaPlan(out, plan)
}

func printRunJSON(run any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
