package telemetry

import (
	"context"
	"errors"
	"os"
)

// Telemetry bundles the logger, tracer, metrics and event publisher handed to
// environments and flow runners.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
}

// NewTelemetry validates cfg and builds every component. Logs go to stderr.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(),
	}, nil
}

// NewNopTelemetry discards logs and records nothing.
func NewNopTelemetry() *Telemetry {
	return &Telemetry{Logger: NewNopLogger()}
}

// StartMetricsServer serves metrics when they are enabled. See Metrics.StartMetricsServer.
func (t *Telemetry) StartMetricsServer() (<-chan error, error) {
	return t.Metrics.StartMetricsServer()
}

// Shutdown flushes spans and stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.StopMetricsServer(ctx),
	)
}
