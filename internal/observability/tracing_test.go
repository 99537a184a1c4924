package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.ServiceName != "springtwin" {
		t.Fatalf("expected service name 'springtwin', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestTracerProvider_Shutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil provider, got: %v", err)
	}
}

func TestSpans_NestUnderJob(t *testing.T) {
	ctx := context.Background()
	ctx, job := StartJobSpan(ctx, "j1", "p1")

	scanCtx, scan := StartScanSpan(ctx, "/src")
	RecordScanResult(scan, 10, 1)
	scan.End()

	_, extract := StartExtractSpan(scanCtx, 9, 4)
	RecordExtractResult(extract, 8, 1)
	extract.End()

	_, commit := StartCommitSpan(ctx, "p1")
	RecordCommitResult(commit, 3, true)
	commit.End()

	RecordError(job, nil)
	RecordError(job, errors.New("boom"))
	job.End()
}

func TestRecordToolResult_SetsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	_, ok := tracer.Start(context.Background(), "tool.list_classes")
	RecordToolResult(ok, "OK", 5*time.Millisecond)
	ok.End()

	_, bad := tracer.Start(context.Background(), "tool.cancel_job")
	RecordToolResult(bad, "NOT_FOUND", time.Millisecond)
	bad.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("expected OK tool call to keep unset status")
	}
	if spans[1].Status().Code != codes.Error {
		t.Error("expected error status for NOT_FOUND")
	}
	found := false
	for _, kv := range spans[1].Attributes() {
		if kv.Key == attribute.Key("tool.code") && kv.Value.AsString() == "NOT_FOUND" {
			found = true
		}
	}
	if !found {
		t.Error("expected tool.code attribute")
	}
}

func TestTracerName(t *testing.T) {
	if TracerName != "github.com/Lezhik/SpringTwin" {
		t.Fatalf("unexpected tracer name: %s", TracerName)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v): expected %s, got %s", tt.rate, tt.want, got)
		}
	}
}
