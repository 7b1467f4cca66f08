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

	"github.com/sells-group/crm-goals/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCalculationFailures AlertType = "calculation_failures"
	AlertOverdueGoals        AlertType = "overdue_goals"
	AlertStaleCalculations   AlertType = "stale_calculations"
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

	if a.cfg.FailedCalcThreshold > 0 && snap.FailedCalculations >= a.cfg.FailedCalcThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCalculationFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d active goal(s) have failed calculations (threshold %d)",
				snap.FailedCalculations, a.cfg.FailedCalcThreshold,
			),
			Details: map[string]any{
				"failed_calculations": snap.FailedCalculations,
				"threshold":           a.cfg.FailedCalcThreshold,
				"active_goals":        snap.ActiveGoals,
			},
			Timestamp: now,
		})
	}

	if a.cfg.OverdueThreshold > 0 && snap.OverdueActive >= a.cfg.OverdueThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOverdueGoals,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d active goal(s) are past their end date (threshold %d)",
				snap.OverdueActive, a.cfg.OverdueThreshold,
			),
			Details: map[string]any{
				"overdue_active": snap.OverdueActive,
				"threshold":      a.cfg.OverdueThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.StaleCalculations > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleCalculations,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d auto-calculated goal(s) have not been recalculated in the last %dh",
				snap.StaleCalculations, snap.LookbackHours,
			),
			Details: map[string]any{
				"stale_calculations": snap.StaleCalculations,
				"never_calculated":   snap.NeverCalculated,
				"lookback_hours":     snap.LookbackHours,
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
