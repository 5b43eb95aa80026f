// Package metrics holds the Prometheus collectors for the discovery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexleads_runs_total",
			Help: "Total number of discovery runs by terminal status",
		},
		[]string{"status"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexleads_runs_active",
			Help: "Number of discovery runs in flight",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexleads_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"stage", "outcome"},
	)

	StrategyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexleads_search_strategy_attempts_total",
			Help: "Search strategy attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexleads_provider_retries_total",
			Help: "Rate-limit and overload retries by provider",
		},
		[]string{"provider", "reason"},
	)

	LeadsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lexleads_leads_extracted_total",
			Help: "Total number of leads produced by completed runs",
		},
	)

	StreamChars = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexleads_structure_stream_chars",
			Help:    "Characters received per structuring stream",
			Buckets: prometheus.ExponentialBuckets(250, 2, 8),
		},
	)
)
