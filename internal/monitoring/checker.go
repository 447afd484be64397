package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/config"
)

// Checker periodically collects pipeline metrics, logs a health summary,
// and pushes any raised alerts. One instance runs for the lifetime of the
// status server.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
	}
}

// Run blocks until ctx is canceled. The first check fires immediately, so
// a freshly started server reports backfill health without waiting out a
// full interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("pipeline health checks started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.check(ctx, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline health checks stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return
	}

	log.Info("monitoring: pipeline health",
		zap.Int("runs", snap.RunsTotal),
		zap.Int("interrupted", snap.RunsInterrupted),
		zap.Float64("fail_rate", snap.RunFailRate),
		zap.Float64("accept_rate", snap.AcceptRate),
		zap.Int("persisted", snap.Persisted),
		zap.Int("stored_articles", snap.StoredArticles),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("monitoring: alerts raised",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent),
	)
}
