package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withTestProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	exp := withTestProvider(t)

	ctx, span := StartSpan(context.Background(), "dialogue.reply", attribute.Int("turn", 3))
	if TraceID(ctx) == "" {
		t.Fatalf("expected trace id in context")
	}
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "dialogue.reply" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes {
		if kv.Key == "turn" && kv.Value.AsInt64() == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("turn attribute missing: %v", spans[0].Attributes)
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exp := withTestProvider(t)

	_, span := StartSpan(context.Background(), "tts.synthesize")
	EndSpan(span, errors.New("boom"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "boom" {
		t.Fatalf("status = %+v", spans[0].Status)
	}
}

func TestTraceIDEmptyWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Fatalf("TraceID = %q, want empty", got)
	}
}

func TestLoggerAddsTraceFields(t *testing.T) {
	withTestProvider(t)
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	Logger(context.Background(), base).Info("plain")
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	Logger(ctx, base).Info("traced")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["trace_id"]; ok {
		t.Fatalf("plain entry should not carry trace_id")
	}
	if entries[1].ContextMap()["trace_id"] != TraceID(ctx) {
		t.Fatalf("traced entry fields: %v", entries[1].ContextMap())
	}
}

func TestInitTracingInstallsProvider(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitTracing("test-svc", exp)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	_, span := StartSpan(context.Background(), "after-init")
	span.End()
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one exported span, got %d", len(spans))
	}
	if v, ok := spans[0].Resource.Set().Value("service.name"); !ok || v.AsString() != "test-svc" {
		t.Fatalf("service.name = %v", v)
	}
}
