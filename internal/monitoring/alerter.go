package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arbor-commodities/sugarwire/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate  AlertType = "run_failure_rate"
	AlertInterruptedRuns AlertType = "interrupted_runs"
	AlertLowAcceptRate   AlertType = "low_accept_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check run failure rate.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 3 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingest run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Interrupted runs have checkpoints waiting for a resume.
	if snap.RunsInterrupted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertInterruptedRuns,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d interrupted run(s) awaiting resume in last %dh",
				snap.RunsInterrupted, snap.LookbackHours,
			),
			Details: map[string]any{
				"interrupted": snap.RunsInterrupted,
				"total_runs":  snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// A collapsed accept rate usually means term tables or a provider
	// feed changed under us.
	if a.cfg.AcceptRateFloor > 0 && snap.Fetched >= 100 && snap.AcceptRate < a.cfg.AcceptRateFloor {
		alerts = append(alerts, Alert{
			Type:     AlertLowAcceptRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Accept rate %.1f%% below floor %.1f%% (%d accepted / %d fetched in last %dh)",
				snap.AcceptRate*100, a.cfg.AcceptRateFloor*100,
				snap.Accepted, snap.Fetched, snap.LookbackHours,
			),
			Details: map[string]any{
				"accept_rate": snap.AcceptRate,
				"floor":       a.cfg.AcceptRateFloor,
				"accepted":    snap.Accepted,
				"fetched":     snap.Fetched,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
