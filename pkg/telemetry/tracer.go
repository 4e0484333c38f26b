package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrEnvironmentID = attribute.Key("environment.id")
	AttrStage         = attribute.Key("environment.stage")
	AttrStorageKind   = attribute.Key("storage.kind")
	AttrImageRef      = attribute.Key("storage.image")
	AttrFlowLocation  = attribute.Key("flow.location")
	AttrFlowPath      = attribute.Key("flow.path")
	AttrFlowName      = attribute.Key("flow.name")
	AttrRunID         = attribute.Key("run.id")
	AttrRunStatus     = attribute.Key("run.status")
	AttrExecutor      = attribute.Key("engine.executor")
	AttrRunner        = attribute.Key("engine.runner")
	AttrTaskName      = attribute.Key("task.name")
	AttrTaskKind      = attribute.Key("task.kind")
)

// Tracer starts the spans of environment executions and task runs.
// A nil *Tracer, or one built with tracing disabled, starts no-op spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer exporting in batches to cfg.Exporter and installs it
// as the global provider.
func NewTracer(cfg TracingConfig, serviceVersion string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(ServiceName)}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{provider: provider, tracer: provider.Tracer(ServiceName)}, nil
}

// NewTracerFromProvider wraps an existing provider without touching the global one.
func NewTracerFromProvider(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(ServiceName)}
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(ServiceName)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return noop.NewTracerProvider().Tracer(ServiceName).Start(ctx, name, trace.WithAttributes(attrs...))
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartFlowRunSpan starts the root span of one environment execution.
func (t *Tracer) StartFlowRunSpan(ctx context.Context, environmentID, flowLocation string) (context.Context, trace.Span) {
	return t.start(ctx, "environment.execute",
		AttrEnvironmentID.String(environmentID),
		AttrFlowLocation.String(flowLocation),
	)
}

// StartStageSpan starts a child span for one stage, named environment.<stage>.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.start(ctx, "environment."+stage, AttrStage.String(stage))
}

// StartTaskSpan starts the span of one task run.
func (t *Tracer) StartTaskSpan(ctx context.Context, runID, task, kind string) (context.Context, trace.Span) {
	return t.start(ctx, "task_run.execute",
		AttrRunID.String(runID),
		AttrTaskName.String(task),
		AttrTaskKind.String(kind),
	)
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

func SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// AddStageEvent records entering stage on span.
func AddStageEvent(span trace.Span, stage string) {
	span.AddEvent("stage."+stage, trace.WithAttributes(AttrStage.String(stage)))
}
