package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathervane_observations_ingested_total",
			Help: "Total observations appended to the store",
		},
		[]string{"provenance"},
	)

	ForecastsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathervane_forecasts_recorded_total",
			Help: "Total forecasts written to the ledger",
		},
		[]string{"kind"},
	)

	EvaluationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathervane_evaluations_recorded_total",
			Help: "Total evaluations written",
		},
		[]string{"kind", "category"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weathervane_sweep_duration_seconds",
			Help:    "Auto-evaluation sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FeedFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weathervane_feed_fallbacks_total",
			Help: "Weather feed failures served with a simulated reading",
		},
	)

	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weathervane_training_runs_total",
			Help: "Model training passes",
		},
		[]string{"status"},
	)
)
