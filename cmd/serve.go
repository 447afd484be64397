package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/checkpoint"
	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/monitoring"
	"github.com/arbor-commodities/sugarwire/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long:  "Serves run history, checkpoint state, and pipeline metrics over HTTP, with background alerting when a webhook is configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
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

		ckpts, err := checkpoint.NewManager(cfg.Ingest.CheckpointDir)
		if err != nil {
			return eris.Wrap(err, "open checkpoint dir")
		}

		collector := monitoring.NewCollector(st)

		// Background alerting, only when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		r := buildRouter(st, ckpts, collector, cfg.Monitoring.LookbackWindowHours)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return runServer(ctx, srv)
	},
}

// runServer serves until ctx is canceled, then drains in-flight requests.
// The signal context is already canceled at shutdown time, so the drain
// gets a fresh context with its own deadline.
func runServer(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter assembles the status API. Split from the command so tests
// can drive it with httptest.
func buildRouter(st store.Store, ckpts *checkpoint.Manager, collector *monitoring.Collector, defaultLookbackHours int) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(req.URL.Query().Get("status")),
			Limit:  50,
		}
		if v := req.URL.Query().Get("limit"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &filter.Limit); err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("serve: list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
	})

	r.Get("/api/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/api/checkpoint", func(w http.ResponseWriter, req *http.Request) {
		snap, err := ckpts.Latest()
		if err != nil {
			zap.L().Error("serve: read checkpoint", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "read checkpoint failed")
			return
		}
		if snap == nil {
			writeError(w, http.StatusNotFound, "no checkpoint")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":      snap.RunID,
			"next_window": snap.NextWindow,
			"articles":    len(snap.Articles),
			"saved_at":    snap.SavedAt.Format(time.RFC3339),
		})
	})

	r.Get("/api/metrics", func(w http.ResponseWriter, req *http.Request) {
		lookback := defaultLookbackHours
		if v := req.URL.Query().Get("lookback_hours"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &lookback); err != nil {
				writeError(w, http.StatusBadRequest, "invalid lookback_hours")
				return
			}
		}

		snap, err := collector.Collect(req.Context(), lookback)
		if err != nil {
			zap.L().Error("serve: collect metrics", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect metrics failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
