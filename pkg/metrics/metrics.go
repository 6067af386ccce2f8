// Package metrics exposes Prometheus instrumentation for the monitoring
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the sweep pipeline reports into
type Metrics struct {
	SweepsTotal        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	PostsCreated       prometheus.Counter
	PostsClassified    prometheus.Counter
	BackoffEngagements prometheus.Counter
	RemoteRuns         *prometheus.CounterVec
	BatchSplits        prometheus.Counter
	ImagesCached       prometheus.Counter

	factory promauto.Factory
}

// RegisterBackoffGauge exposes the remaining backoff window through the given
// callback. Call at most once per Metrics instance.
func (m *Metrics) RegisterBackoffGauge(remaining func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "eventscout",
		Name:      "backoff_seconds_remaining",
		Help:      "Seconds until the direct source may be used again, zero when idle.",
	}, remaining)
}

// New registers the collectors on the given registerer. Passing nil uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,
		SweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "sweeps_total",
			Help:      "Monitoring sweeps by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventscout",
			Name:      "sweep_duration_seconds",
			Help:      "Wall-clock duration of monitoring sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		PostsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "posts_created_total",
			Help:      "Posts persisted by the ingestion writer.",
		}),
		PostsClassified: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "posts_classified_total",
			Help:      "Posts auto-classified at ingestion time.",
		}),
		BackoffEngagements: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "backoff_engagements_total",
			Help:      "Times the direct source entered a rate-limit backoff window.",
		}),
		RemoteRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "remote_runs_total",
			Help:      "Remote actor runs by transport.",
		}, []string{"transport"}),
		BatchSplits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "remote_batch_splits_total",
			Help:      "Bulk remote batches split after a failed run.",
		}),
		ImagesCached: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "eventscout",
			Name:      "images_cached_total",
			Help:      "Poster images stored in the local cache.",
		}),
	}
}

// ObserveSweep records one sweep outcome
func (m *Metrics) ObserveSweep(trigger string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.SweepsTotal.WithLabelValues(trigger, outcome).Inc()
	m.SweepDuration.Observe(seconds)
}
