package telemetry

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ServiceName identifies flowenv in traces and metrics.
const ServiceName = "flowenv"

// Config selects what a Telemetry records and where it goes.
type Config struct {
	ServiceVersion string `validate:"required"`

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig controls the logger built by NewTelemetry. Logs go to stderr.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`
	Caller bool
}

// TracingConfig controls span export. Spans are no-ops unless Enabled.
type TracingConfig struct {
	Enabled bool
	// Exporter is "otlp" (gRPC to Endpoint) or "stdout".
	Exporter string `validate:"oneof=otlp stdout"`
	Endpoint string `validate:"required_if=Exporter otlp"`
	Insecure bool
}

// MetricsConfig controls the Prometheus collectors and their HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig logs at info level to a console writer and records nothing else.
func DefaultConfig() *Config {
	return &Config{
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
			Insecure: true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
