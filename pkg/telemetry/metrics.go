package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = ServiceName
	metricsPath      = "/metrics"
)

// Metrics provides Prometheus metrics for flow environments.
// A nil *Metrics or one built with metrics disabled is a valid no-op recorder.
type Metrics struct {
	config MetricsConfig

	// Flow run metrics
	flowRunsStarted   *prometheus.CounterVec
	flowRunsCompleted *prometheus.CounterVec
	flowRunDuration   *prometheus.HistogramVec

	// Task run metrics
	taskRuns        *prometheus.CounterVec
	taskRunDuration *prometheus.HistogramVec

	// Environment metrics
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	errorsByClass *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := metricsNamespace
	buckets := prometheus.DefBuckets

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		flowRunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_runs_started_total",
				Help:      "Total number of flow runs started",
			},
			[]string{"flow", "executor"},
		),
		flowRunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_runs_completed_total",
				Help:      "Total number of flow runs completed",
			},
			[]string{"flow", "status"},
		),
		flowRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flow_run_duration_seconds",
				Help:      "Duration of flow runs in seconds",
				Buckets:   buckets,
			},
			[]string{"flow", "status"},
		),

		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Total number of task runs",
			},
			[]string{"kind", "status"},
		),
		taskRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_run_duration_seconds",
				Help:      "Duration of task runs in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "environment_stage_duration_seconds",
				Help:      "Time spent in each environment stage",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "environment_stage_failures_total",
				Help:      "Total number of environment executions that failed, by stage",
			},
			[]string{"stage"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_flow_runs",
				Help:      "Current number of active flow runs",
			},
		),
	}

	registry.MustRegister(
		m.flowRunsStarted,
		m.flowRunsCompleted,
		m.flowRunDuration,
		m.taskRuns,
		m.taskRunDuration,
		m.stageDuration,
		m.stageFailures,
		m.errorsByClass,
		m.activeRuns,
	)

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordFlowRunStarted increments the counter for started flow runs.
func (m *Metrics) RecordFlowRunStarted(flow, executor string) {
	if !m.Enabled() {
		return
	}
	m.flowRunsStarted.WithLabelValues(flow, executor).Inc()
	m.activeRuns.Inc()
}

// RecordFlowRunCompleted records a completed flow run with its status and duration.
func (m *Metrics) RecordFlowRunCompleted(flow, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.flowRunsCompleted.WithLabelValues(flow, status).Inc()
	m.flowRunDuration.WithLabelValues(flow, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordTaskRun records the outcome of a task run.
func (m *Metrics) RecordTaskRun(kind, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.taskRuns.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		m.taskRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveStage records the time elapsed on timer as spent in stage.
func (m *Metrics) ObserveStage(stage string, timer *Timer) {
	if !m.Enabled() || timer == nil {
		return
	}
	timer.ObserveDuration(m.stageDuration.WithLabelValues(stage))
}

// RecordStageFailure records an environment execution that failed in stage.
func (m *Metrics) RecordStageFailure(stage string) {
	if !m.Enabled() {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if !m.Enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer measures one operation from its creation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration feeds the elapsed seconds to observer.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// Serve errors are reported on the returned channel, which is closed when the server stops.
func (m *Metrics) StartMetricsServer() (<-chan error, error) {
	errCh := make(chan error, 1)
	if !m.Enabled() {
		close(errCh)
		return errCh, nil
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(errCh)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh, nil
}

// StopMetricsServer shuts the metrics server down if it was started.
func (m *Metrics) StopMetricsServer(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
