package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/config"
)

// Checker evaluates discovery health on an interval and posts each alert
// once when it starts firing. An alert that stays firing across checks is
// not re-sent; one that clears is logged as resolved.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// firing holds the keys of alerts raised by the previous check. Only
	// the Run goroutine touches it.
	firing map[string]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[string]bool),
	}
}

// Run checks once immediately, then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting discovery health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
	)

	if ctx.Err() != nil {
		return
	}
	c.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("discovery health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect discovery metrics", zap.Error(err))
		return
	}

	current := make(map[string]bool)
	var raised int
	for _, a := range c.alerter.Evaluate(snap) {
		key := alertKey(a)
		current[key] = true
		if c.firing[key] {
			continue
		}
		raised++
		// Without a webhook the alert is only logged; with one, a failed
		// post is retried on the next check.
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 0 && c.cfg.WebhookURL != "" {
			delete(current, key)
		}
		log.Warn("monitoring: alert firing",
			zap.String("alert", key),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}

	for key := range c.firing {
		if !current[key] {
			log.Info("monitoring: alert resolved", zap.String("alert", key))
		}
	}
	c.firing = current

	log.Debug("monitoring: check complete",
		zap.Int("runs_total", snap.RunsTotal),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("firing", len(current)),
		zap.Int("raised", raised),
	)
}

// alertKey identifies an alert across checks: its type, plus the provider
// for breaker alerts.
func alertKey(a Alert) string {
	if p, ok := a.Details["provider"]; ok {
		return fmt.Sprintf("%s:%v", a.Type, p)
	}
	return string(a.Type)
}
