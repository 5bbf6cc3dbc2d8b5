package telemetry

import (
	"context"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("SetupTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestNewTracerProvider(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	tp := NewTracerProvider(exporter, domain.TracingConfig{ServiceName: "heron-test"}, "v1.2.3")
	defer tp.Shutdown(ctx)

	_, span := tp.Tracer("heron-pipeline").Start(ctx, "pipeline.run")
	span.End()

	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "pipeline.run" {
		t.Errorf("expected span pipeline.run, got %s", spans[0].Name)
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["service.name"] != "heron-test" {
		t.Errorf("expected service.name heron-test, got %q", attrs["service.name"])
	}
	if attrs["service.version"] != "v1.2.3" {
		t.Errorf("expected service.version v1.2.3, got %q", attrs["service.version"])
	}
}
