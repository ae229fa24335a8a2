// Package metrics exposes prometheus instrumentation for the collections
// sweeps.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every metric.
type Config struct {
	ServiceName string
	Environment string
}

// CollectionsMetrics captures sweep health signals.
type CollectionsMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec

	actionsExecuted *prometheus.CounterVec
	prepaidOutcomes *prometheus.CounterVec
	casesResolved   prometheus.Counter
}

var (
	collectionsMetricsOnce sync.Once
	collectionsMetrics     *CollectionsMetrics
)

// Collections returns the singleton collections metrics registry.
func Collections() *CollectionsMetrics {
	return CollectionsWithConfig(Config{})
}

// CollectionsWithConfig returns the singleton using config labels.
func CollectionsWithConfig(cfg Config) *CollectionsMetrics {
	collectionsMetricsOnce.Do(func() {
		collectionsMetrics = newCollectionsMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return collectionsMetrics
}

// ResetCollectionsMetricsForTest resets the singleton for tests.
func ResetCollectionsMetricsForTest() {
	collectionsMetricsOnce = sync.Once{}
	collectionsMetrics = nil
}

func newCollectionsMetrics(registerer prometheus.Registerer, cfg Config) *CollectionsMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "wirebill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &CollectionsMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wirebill_collections_job_runs_total",
			Help:        "Collections job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "wirebill_collections_job_duration_seconds",
			Help:        "Collections job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wirebill_collections_job_timeouts_total",
			Help:        "Collections job timeouts.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wirebill_collections_job_errors_total",
			Help:        "Collections job errors by job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		actionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wirebill_collections_actions_total",
			Help:        "Dunning actions executed by action and outcome.",
			ConstLabels: constLabels,
		}, []string{"action", "outcome"}),
		prepaidOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "wirebill_collections_prepaid_outcomes_total",
			Help:        "Prepaid enforcement outcomes per account.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		casesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "wirebill_collections_cases_resolved_total",
			Help:        "Dunning cases auto-resolved by the sweep.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.actionsExecuted,
		m.prepaidOutcomes,
		m.casesResolved,
	)
	return m
}

func (m *CollectionsMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *CollectionsMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *CollectionsMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *CollectionsMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *CollectionsMetrics) IncActionExecuted(action, outcome string) {
	m.actionsExecuted.WithLabelValues(action, outcome).Inc()
}

func (m *CollectionsMetrics) IncPrepaidOutcome(outcome string) {
	m.prepaidOutcomes.WithLabelValues(outcome).Inc()
}

func (m *CollectionsMetrics) IncCaseResolved() {
	m.casesResolved.Inc()
}
