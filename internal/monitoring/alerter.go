// Package monitoring raises webhook alerts when a batch run looks unhealthy.
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

	"github.com/sells-group/osm-geocoder/internal/batch"
	"github.com/sells-group/osm-geocoder/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate AlertType = "geocode_error_rate"
	AlertMissRate  AlertType = "geocode_miss_rate"
	AlertRunHalted AlertType = "geocode_run_halted"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a batch summary against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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

// Evaluate checks the summary against thresholds and returns any alerts.
// Rate alerts need at least MinRecords attempted records.
func (a *Alerter) Evaluate(sum batch.Summary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	attempted := sum.Geocoded + sum.Failed + sum.Errors
	if attempted > 0 && attempted >= a.cfg.MinRecords {
		errRate := float64(sum.Errors) / float64(attempted)
		if a.cfg.ErrorRateThreshold > 0 && errRate > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Provider error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d attempted, run %s)",
					errRate*100, a.cfg.ErrorRateThreshold*100, sum.Errors, attempted, sum.RunID,
				),
				Details: map[string]any{
					"error_rate": errRate,
					"threshold":  a.cfg.ErrorRateThreshold,
					"errors":     sum.Errors,
					"attempted":  attempted,
				},
				Timestamp: now,
			})
		}

		missRate := float64(sum.Failed) / float64(attempted)
		if a.cfg.MissRateThreshold > 0 && missRate > a.cfg.MissRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertMissRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"No-result rate %.1f%% exceeds threshold %.1f%% (%d / %d attempted, run %s)",
					missRate*100, a.cfg.MissRateThreshold*100, sum.Failed, attempted, sum.RunID,
				),
				Details: map[string]any{
					"miss_rate": missRate,
					"threshold": a.cfg.MissRateThreshold,
					"failed":    sum.Failed,
					"attempted": attempted,
				},
				Timestamp: now,
			})
		}
	}

	if sum.Skipped > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunHalted,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d records skipped after the provider kept throttling (run %s)",
				sum.Skipped, sum.Total, sum.RunID,
			),
			Details: map[string]any{
				"skipped": sum.Skipped,
				"total":   sum.Total,
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
