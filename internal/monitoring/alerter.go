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

	"github.com/sells-group/jobsync/internal/config"
	"github.com/sells-group/jobsync/internal/pipeline"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunErrorRate         AlertType = "run_error_rate"
	AlertQuotaExhausted       AlertType = "quota_exhausted"
	AlertCredentialsExhausted AlertType = "credentials_exhausted"
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

	// Error rate over messages the last run actually attempted.
	if sum := snap.Run.Summary; sum != nil {
		attempted := sum.Listed - sum.AlreadyStored
		if attempted >= 5 {
			rate := float64(sum.Errors+sum.Unclassified) / float64(attempted)
			if rate > a.cfg.ErrorRateThreshold {
				alerts = append(alerts, Alert{
					Type:     AlertRunErrorRate,
					Severity: "high",
					Message: fmt.Sprintf(
						"%s run failed %.1f%% of messages (threshold %.1f%%)",
						sum.Mode, rate*100, a.cfg.ErrorRateThreshold*100,
					),
					Details: map[string]any{
						"error_rate":   rate,
						"threshold":    a.cfg.ErrorRateThreshold,
						"errors":       sum.Errors,
						"unclassified": sum.Unclassified,
						"attempted":    attempted,
					},
					Timestamp: now,
				})
			}
		}
	}

	if !snap.Run.Running && snap.Run.Halted == pipeline.HaltQuotaExhausted {
		alerts = append(alerts, Alert{
			Type:     AlertQuotaExhausted,
			Severity: "info",
			Message:  fmt.Sprintf("%s run halted: classifier quota exhausted, progress saved", snap.Run.Mode),
			Details: map[string]any{
				"requests":    snap.Run.Requests,
				"rate_limits": snap.Run.RateLimits,
			},
			Timestamp: now,
		})
	}

	if n := len(snap.Credentials); n > 0 {
		exhausted := 0
		for _, c := range snap.Credentials {
			if c.Exhausted {
				exhausted++
			}
		}
		if exhausted == n {
			alerts = append(alerts, Alert{
				Type:      AlertCredentialsExhausted,
				Severity:  "medium",
				Message:   fmt.Sprintf("all %d classifier credentials are rate-limited for today", n),
				Details:   map[string]any{"credentials": n},
				Timestamp: now,
			})
		}
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
