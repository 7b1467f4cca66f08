package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-goals/internal/config"
)

// Checker drives the collector and alerter on an interval. It rides along
// with the reconciliation sweep so calculation problems surface without a
// separate operator invocation of `goals status`.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker over the given store-backed
// collector and webhook alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// CheckOnce collects a metrics snapshot, evaluates thresholds, and delivers
// any triggered alerts. Returns the number of alerts sent.
func (c *Checker) CheckOnce(ctx context.Context) (int, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return 0, err
	}
	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return 0, nil
	}
	return c.alerter.SendAlerts(ctx, alerts), nil
}

// Run checks immediately, then on every interval tick until ctx is
// cancelled. Collection failures are logged and the loop continues.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sent, err := c.CheckOnce(ctx)
		switch {
		case err != nil:
			log.Error("alert check failed", zap.Error(err))
		case sent > 0:
			log.Info("alert check complete", zap.Int("alerts_sent", sent))
		}

		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}
