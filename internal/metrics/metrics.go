// Package metrics holds the Prometheus instruments of the area core. There is
// no HTTP surface; areactl writes the registry to a node-exporter textfile
// when it exits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "areas"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
)

// Metrics groups every instrument. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// TreeMutations counts mutations by op (insert, move, ...) and outcome.
	TreeMutations *prometheus.CounterVec
	// MutationSeconds measures mutation latency by op.
	MutationSeconds *prometheus.HistogramVec
	// BorderRuns counts border extraction runs by outcome.
	BorderRuns *prometheus.CounterVec
	// BordersEmitted is the row count of the last published border set.
	BordersEmitted prometheus.Gauge
	// FeaturesProjected counts features built by the projector.
	FeaturesProjected prometheus.Counter
	// FeatureCache counts cache lookups by result (hit, miss).
	FeatureCache *prometheus.CounterVec
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TreeMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "mutations_total",
			Help:      "Tree mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		MutationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "mutation_duration_seconds",
			Help:      "Tree mutation latency, including persistence.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"op"}),
		BorderRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "borders",
			Name:      "runs_total",
			Help:      "Border extraction runs by outcome.",
		}, []string{"outcome"}),
		BordersEmitted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "borders",
			Name:      "rows",
			Help:      "Border rows published by the last successful run.",
		}),
		FeaturesProjected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "projected_total",
			Help:      "Features built by the projector.",
		}),
		FeatureCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "cache_lookups_total",
			Help:      "Feature cache lookups by result.",
		}, []string{"result"}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMutation records one tree mutation.
func (m *Metrics) ObserveMutation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TreeMutations.WithLabelValues(op, outcome).Inc()
	m.MutationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveBorderRun records one extraction run. rows is only used on success.
func (m *Metrics) ObserveBorderRun(outcome string, rows int) {
	if m == nil {
		return
	}
	m.BorderRuns.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.BordersEmitted.Set(float64(rows))
	}
}

// AddFeatures counts projected features.
func (m *Metrics) AddFeatures(n int) {
	if m == nil {
		return
	}
	m.FeaturesProjected.Add(float64(n))
}

// CacheLookup counts a feature cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.FeatureCache.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
