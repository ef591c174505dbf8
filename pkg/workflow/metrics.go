package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "spoolhub"
	subsystem = "workflow"
)

// Metrics records workflow outcomes and side-effect failures.
type Metrics struct {
	runs                 *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
	afterCommitFailures  *prometheus.CounterVec
	cleanupEnqueued      *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Workflow runs by outcome.",
		}, []string{"workflow", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Workflow wall time from begin to commit or rollback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compensation_failures_total",
			Help:      "Compensating actions that failed after a rollback.",
		}, []string{"workflow"}),
		afterCommitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "after_commit_failures_total",
			Help:      "Deferred side effects that failed after a commit.",
		}, []string{"workflow"}),
		cleanupEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cleanup_enqueued_total",
			Help:      "Orphaned blob keys handed to the cleanup queue.",
		}, []string{"workflow", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.PrometheusCollectors()...)
	}
	return m
}

// PrometheusCollectors lists every collector owned by m.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runs,
		m.duration,
		m.compensationFailures,
		m.afterCommitFailures,
		m.cleanupEnqueued,
	}
}
