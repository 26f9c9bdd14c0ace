package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the engine's prometheus collectors.
type Manager struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	recordsProcessed  *prometheus.CounterVec
	retriesTotal      prometheus.Counter
	activeExecutions  prometheus.Gauge
	executionDuration prometheus.Histogram
}

// NewManager creates and registers the collector set on a private registry.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	m := &Manager{
		registry: registry,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etlez_pipeline_executions_total",
			Help: "Pipeline executions by terminal status.",
		}, []string{"pipeline_id", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etlez_stage_duration_seconds",
			Help:    "Stage execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline_id", "stage", "status"}),
		recordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etlez_records_processed_total",
			Help: "Records processed per pipeline.",
		}, []string{"pipeline_id"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etlez_stage_retries_total",
			Help: "Stage retry attempts across all pipelines.",
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etlez_active_executions",
			Help: "Currently running pipeline executions.",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "etlez_pipeline_duration_seconds",
			Help:    "End-to-end pipeline execution duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
	}
	registry.MustRegister(
		m.executionsTotal,
		m.stageDuration,
		m.recordsProcessed,
		m.retriesTotal,
		m.activeExecutions,
		m.executionDuration,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExecutionStarted marks one more in-flight execution.
func (m *Manager) ExecutionStarted() {
	m.activeExecutions.Inc()
}

// ExecutionFinished records a terminal execution outcome.
func (m *Manager) ExecutionFinished(pipelineID, status string, durationSeconds float64, records int64) {
	m.activeExecutions.Dec()
	m.executionsTotal.WithLabelValues(pipelineID, status).Inc()
	m.executionDuration.Observe(durationSeconds)
	if records > 0 {
		m.recordsProcessed.WithLabelValues(pipelineID).Add(float64(records))
	}
}

// StageCompleted records one stage outcome.
func (m *Manager) StageCompleted(pipelineID, stage, status string, durationSeconds float64) {
	m.stageDuration.WithLabelValues(pipelineID, stage, status).Observe(durationSeconds)
}

// RetryObserved counts one stage retry.
func (m *Manager) RetryObserved() {
	m.retriesTotal.Inc()
}
