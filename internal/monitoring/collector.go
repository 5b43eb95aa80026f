// Package monitoring collects run statistics and raises alerts on them.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/store"
)

// MetricsSnapshot holds a point-in-time view of discovery health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total" yaml:"runs_total"`
	RunsComplete int     `json:"runs_complete" yaml:"runs_complete"`
	RunsFailed   int     `json:"runs_failed" yaml:"runs_failed"`
	FailRate     float64 `json:"fail_rate" yaml:"fail_rate"`
	AvgLeads     float64 `json:"avg_leads" yaml:"avg_leads"`
	AvgElapsedMs float64 `json:"avg_elapsed_ms" yaml:"avg_elapsed_ms"`

	// Cumulative usage counters.
	LeadsTotal   int64 `json:"leads_total" yaml:"leads_total"`
	QueriesTotal int64 `json:"queries_total" yaml:"queries_total"`

	// Provider circuit breaker states.
	Breakers map[string]string `json:"breakers,omitempty" yaml:"breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// RunSummarizer aggregates run history.
type RunSummarizer interface {
	Summarize(ctx context.Context, since time.Time) (*store.RunSummary, error)
}

// UsageReader reads cumulative usage.
type UsageReader interface {
	GetStats(ctx context.Context) (*model.UsageStats, error)
}

// BreakerStates reports circuit breaker states by provider.
type BreakerStates interface {
	States() map[string]string
}

// Collector gathers metrics from run history, usage and breakers. Any
// source may be nil.
type Collector struct {
	runs     RunSummarizer
	usage    UsageReader
	breakers BreakerStates
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunSummarizer, usage UsageReader, breakers BreakerStates) *Collector {
	return &Collector{runs: runs, usage: usage, breakers: breakers}
}

// Collect gathers a snapshot over the given lookback window. A window of
// zero covers all history.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	if c.runs != nil {
		var since time.Time
		if lookbackHours > 0 {
			since = now.Add(-time.Duration(lookbackHours) * time.Hour)
		}
		sum, err := c.runs.Summarize(ctx, since)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: summarize runs")
		}
		snap.RunsTotal = sum.Total
		snap.RunsComplete = sum.Complete
		snap.RunsFailed = sum.Failed
		snap.AvgLeads = sum.AvgLeads
		snap.AvgElapsedMs = sum.AvgElapsedMs
		if finished := sum.Complete + sum.Failed; finished > 0 {
			snap.FailRate = float64(sum.Failed) / float64(finished)
		}
	}

	if c.usage != nil {
		stats, err := c.usage.GetStats(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: get usage")
		}
		snap.LeadsTotal = stats.LeadsTotal
		snap.QueriesTotal = stats.QueriesTotal
	}

	if c.breakers != nil {
		snap.Breakers = c.breakers.States()
	}

	return snap, nil
}
