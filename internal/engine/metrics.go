package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting engine activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	steps       *prometheus.CounterVec
	suspensions prometheus.Counter
	toolErrors  prometheus.Counter
	heartbeats  prometheus.Counter
	branches    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Created once so repeated engine
// construction (tests, multi-agent sessions) cannot trigger duplicate
// registration panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance on the provided registerer.
// Callers needing unique metric names (tests) supply a fresh registry.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hugin",
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Interactions stepped, by variant kind.",
		},
		[]string{"kind"},
	)
	suspensions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hugin",
			Subsystem: "engine",
			Name:      "suspensions_total",
			Help:      "Times a branch halted at a suspension point.",
		},
	)
	toolErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hugin",
			Subsystem: "engine",
			Name:      "tool_errors_total",
			Help:      "Tool invocations converted into error-flagged results.",
		},
	)
	heartbeats := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hugin",
			Subsystem: "engine",
			Name:      "heartbeats_total",
			Help:      "Scheduler heartbeats evaluating waiting conditions.",
		},
	)
	branches := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hugin",
			Subsystem: "engine",
			Name:      "branches_active",
			Help:      "Branches known to the stack.",
		},
	)

	for _, collector := range []prometheus.Collector{steps, suspensions, toolErrors, heartbeats, branches} {
		reg.MustRegister(collector)
	}
	return &Metrics{
		steps:       steps,
		suspensions: suspensions,
		toolErrors:  toolErrors,
		heartbeats:  heartbeats,
		branches:    branches,
	}
}

func (m *Metrics) observeStep(kind string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeSuspension() {
	if m == nil {
		return
	}
	m.suspensions.Inc()
}

func (m *Metrics) observeToolError() {
	if m == nil {
		return
	}
	m.toolErrors.Inc()
}

func (m *Metrics) observeHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) setBranches(n int) {
	if m == nil {
		return
	}
	m.branches.Set(float64(n))
}
