// Package observability provides OpenTelemetry tracing, Prometheus metrics
// and audit logging for SpringTwin.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the SpringTwin tracer.
	TracerName = "github.com/Lezhik/SpringTwin"
)

// TracingConfig configures span export.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // host:port, empty disables export
	SampleRate     float64 // fraction of root spans kept
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "springtwin",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing installs a global tracer provider exporting over OTLP gRPC.
// With no endpoint the global no-op provider is kept and spans are dropped.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// sampler maps a rate in [0, 1] to a root sampler.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for SpringTwin operations.
const (
	SpanKindJob     = "job"
	SpanKindScan    = "scan"
	SpanKindExtract = "extract"
	SpanKindCommit  = "commit"
	SpanKindTool    = "tool"
)

// StartJobSpan starts the root span of an analysis run.
func StartJobSpan(ctx context.Context, jobID, projectID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "job.analyze",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("springtwin.span.kind", SpanKindJob),
			attribute.String("job.id", jobID),
			attribute.String("project.id", projectID),
		),
	)
	return ctx, span
}

// StartScanSpan starts a span for source discovery.
func StartScanSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "scan",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("springtwin.span.kind", SpanKindScan),
			attribute.String("scan.root", root),
		),
	)
	return ctx, span
}

// RecordScanResult records discovery counts on a span.
func RecordScanResult(span trace.Span, discovered, unreadable int) {
	span.SetAttributes(
		attribute.Int("scan.units", discovered),
		attribute.Int("scan.unreadable", unreadable),
	)
}

// StartExtractSpan starts a span for parallel extraction.
func StartExtractSpan(ctx context.Context, units, parallelism int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "extract",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("springtwin.span.kind", SpanKindExtract),
			attribute.Int("extract.units", units),
			attribute.Int("extract.parallelism", parallelism),
		),
	)
	return ctx, span
}

// RecordExtractResult records extraction counts on a span.
func RecordExtractResult(span trace.Span, extracted, skipped int) {
	span.SetAttributes(
		attribute.Int("extract.extracted", extracted),
		attribute.Int("extract.skipped", skipped),
	)
}

// StartCommitSpan starts a span for a graph commit.
func StartCommitSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, "graph.commit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("springtwin.span.kind", SpanKindCommit),
			attribute.String("project.id", projectID),
		),
	)
	return ctx, span
}

// RecordCommitResult records the committed version on a span.
func RecordCommitResult(span trace.Span, version int64, changed bool) {
	span.SetAttributes(
		attribute.Int64("graph.version", version),
		attribute.Bool("graph.changed", changed),
	)
}

// StartToolSpan starts a span for a gateway tool call.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, fmt.Sprintf("tool.%s", tool),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("springtwin.span.kind", SpanKindTool),
			attribute.String("tool.name", tool),
		),
	)
	return ctx, span
}

// RecordToolResult records the external result code of a tool call.
func RecordToolResult(span trace.Span, code string, duration time.Duration) {
	span.SetAttributes(
		attribute.String("tool.code", code),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)
	if code != "OK" {
		span.SetStatus(codes.Error, code)
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
