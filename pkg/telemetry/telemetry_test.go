package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsRecordFlowRun(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordFlowRunStarted("etl", "local")
	if got := testutil.ToFloat64(m.activeRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}

	m.RecordFlowRunCompleted("etl", "success", time.Second)
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active runs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.flowRunsCompleted.WithLabelValues("etl", "success")); got != 1 {
		t.Errorf("completed runs = %v, want 1", got)
	}

	m.RecordTaskRun("shell", "failed", 10*time.Millisecond)
	m.RecordTaskRun("shell", "failed", 0)
	if got := testutil.ToFloat64(m.taskRuns.WithLabelValues("shell", "failed")); got != 2 {
		t.Errorf("task runs = %v, want 2", got)
	}

	m.RecordStageFailure("load")
	m.RecordError("load_failure")
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("load")); got != 1 {
		t.Errorf("stage failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("load_failure")); got != 1 {
		t.Errorf("errors by class = %v, want 1", got)
	}

	m.ObserveStage("load", NewTimer())
	m.ObserveStage("load", nil)
	if got := testutil.CollectAndCount(m.stageDuration, "flowenv_environment_stage_duration_seconds"); got != 1 {
		t.Errorf("stage duration series = %d, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordFlowRunStarted("etl", "parallel")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flowenv_flow_runs_started_total") {
		t.Errorf("exposition does not contain flow run counter:\n%s", rec.Body.String())
	}
}

func TestMetricsDisabledAndNil(t *testing.T) {
	disabled, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	for _, m := range []*Metrics{disabled, nil} {
		if m.Enabled() {
			t.Error("expected metrics to be disabled")
		}
		m.RecordFlowRunStarted("etl", "local")
		m.RecordFlowRunCompleted("etl", "failed", time.Second)
		m.RecordTaskRun("noop", "success", time.Millisecond)
		m.ObserveStage("load", NewTimer())
		m.RecordStageFailure("run")
		m.RecordError("run")
		if err := m.StopMetricsServer(context.Background()); err != nil {
			t.Errorf("StopMetricsServer = %v", err)
		}
	}

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	errCh, err := disabled.StartMetricsServer()
	if err != nil {
		t.Fatalf("StartMetricsServer failed: %v", err)
	}
	if _, open := <-errCh; open {
		t.Error("disabled metrics server should report a closed channel")
	}
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher()

	var all, warnings []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { warnings = append(warnings, e) }, FilterByLevel(EventLevelWarning))

	ep.PublishFlowRunStarted("run-1", "etl", "local")
	ep.PublishTaskRunStarted("run-1", "extract", "shell")
	ep.PublishTaskRunFailed("run-1", "extract", "exit status 1")
	ep.PublishTaskRunSkipped("run-1", "load", "upstream task failed")
	ep.PublishTaskRunCompleted("run-1", "report", time.Millisecond)
	ep.PublishFlowRunFailed("run-1", "etl", "1 task(s) failed")
	ep.PublishFlowRunCompleted("run-2", "etl", time.Second)

	wantAll := []string{
		EventTypeFlowRunStarted, EventTypeTaskRunStarted, EventTypeTaskRunFailed,
		EventTypeTaskRunSkipped, EventTypeTaskRunCompleted, EventTypeFlowRunFailed,
		EventTypeFlowRunCompleted,
	}
	if len(all) != len(wantAll) {
		t.Fatalf("got %d events, want %d", len(all), len(wantAll))
	}
	for i, want := range wantAll {
		if all[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, all[i].Type, want)
		}
		if all[i].ID == "" || all[i].Timestamp.IsZero() {
			t.Errorf("event %d not stamped: %+v", i, all[i])
		}
	}

	wantWarnings := []string{EventTypeTaskRunFailed, EventTypeTaskRunSkipped, EventTypeFlowRunFailed}
	if len(warnings) != len(wantWarnings) {
		t.Fatalf("got %d filtered events, want %d", len(warnings), len(wantWarnings))
	}
	for i, want := range wantWarnings {
		if warnings[i].Type != want {
			t.Errorf("filtered event %d type = %s, want %s", i, warnings[i].Type, want)
		}
	}
}

func TestFilterByLevel(t *testing.T) {
	tests := []struct {
		min   string
		level string
		want  bool
	}{
		{EventLevelInfo, EventLevelInfo, true},
		{EventLevelInfo, EventLevelError, true},
		{EventLevelWarning, EventLevelInfo, false},
		{EventLevelWarning, EventLevelWarning, true},
		{EventLevelError, EventLevelWarning, false},
		{"", EventLevelInfo, true},
	}

	for _, tt := range tests {
		if got := FilterByLevel(tt.min)(Event{Level: tt.level}); got != tt.want {
			t.Errorf("FilterByLevel(%q)(%q) = %v, want %v", tt.min, tt.level, got, tt.want)
		}
	}

	if !ValidEventLevel(EventLevelWarning) || ValidEventLevel("debug") {
		t.Error("ValidEventLevel mismatch")
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var ep *EventPublisher
	ep.Subscribe(func(Event) { t.Error("nil publisher delivered an event") }, nil)
	ep.PublishFlowRunStarted("run-1", "etl", "local")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger = logger.NewComponentLogger("slim-environment").
		WithEnvironmentID("env-1").
		WithFlow("etl").
		WithTask("extract").
		WithRunID("run-1")

	logger.Info("below the level")
	logger.WithError(errors.New("boom")).Error("task failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	want := map[string]string{
		"level":          "error",
		"message":        "task failed",
		"error":          "boom",
		"component":      "slim-environment",
		"environment_id": "env-1",
		"flow":           "etl",
		"task":           "extract",
		"run_id":         "run-1",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %s", k, entry[k], v)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry has no timestamp")
	}

	if _, err := NewLogger(LoggingConfig{Level: "loud", Format: "json"}, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"}, &buf)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.WithFlow("etl").Debugf("Entering stage %s", "loading")

	out := buf.String()
	if !strings.Contains(out, "Entering stage loading") || !strings.Contains(out, "etl") {
		t.Errorf("console output = %q", out)
	}
}

func TestTracer(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tracer := NewTracerFromProvider(provider)

	ctx, run := tracer.StartFlowRunSpan(context.Background(), "env-1", "nightly")
	AddStageEvent(run, "loading")
	_, stage := tracer.StartStageSpan(ctx, "load")
	RecordError(stage, errors.New("no such file"))
	RecordError(stage, nil)
	stage.End()
	_, task := tracer.StartTaskSpan(ctx, "run-1", "extract", "shell")
	SetAttributes(task, AttrRunStatus.String("success"))
	RecordSuccess(task)
	task.End()
	run.End()

	ended := spans.Ended()
	if len(ended) != 3 {
		t.Fatalf("got %d spans, want 3", len(ended))
	}

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}
	if s := byName["environment.load"]; s == nil || s.Status().Code != codes.Error || s.Parent().SpanID() != byName["environment.execute"].SpanContext().SpanID() {
		t.Error("stage span missing, not failed or not a child of the execution span")
	}
	if s := byName["task_run.execute"]; s == nil || s.Status().Code != codes.Ok {
		t.Error("task span missing or not successful")
	}
	events := byName["environment.execute"].Events()
	if len(events) != 1 || events[0].Name != "stage.loading" {
		t.Errorf("execution span events = %v", events)
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestTracer_NilAndDisabled(t *testing.T) {
	disabled, err := NewTracer(TracingConfig{Exporter: "stdout"}, "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	for _, tracer := range []*Tracer{nil, disabled} {
		_, span := tracer.StartFlowRunSpan(context.Background(), "env-1", "flow")
		if span.SpanContext().IsValid() {
			t.Error("expected a no-op span")
		}
		RecordError(span, errors.New("boom"))
		span.End()
		if err := tracer.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "otlp with endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "collector:4317"
		}},
		{name: "metrics enabled", mutate: func(c *Config) { c.Metrics.Enabled = true }},
		{name: "no version", mutate: func(c *Config) { c.ServiceVersion = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "metrics without address", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = "127.0.0.1:0"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	if tel.Logger == nil || tel.Tracer == nil || !tel.Metrics.Enabled() || tel.Events == nil {
		t.Fatalf("incomplete telemetry: %+v", tel)
	}
	if _, err := tel.StartMetricsServer(); err != nil {
		t.Fatalf("StartMetricsServer failed: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	cfg.Logging.Level = "loud"
	if _, err := NewTelemetry(cfg); err == nil {
		t.Error("expected error for invalid configuration")
	}

	nop := NewNopTelemetry()
	nop.Metrics.RecordError("run")
	nop.Events.PublishFlowRunStarted("run-1", "etl", "local")
	if err := nop.Shutdown(context.Background()); err != nil {
		t.Errorf("nop Shutdown failed: %v", err)
	}
}
