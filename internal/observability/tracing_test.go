package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestDisabledTracingInstallsNoop(t *testing.T) {
	tracing, err := InitTracing(context.Background(), TracingConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := tracing.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("expected an invalid span context from the noop provider")
	}
	span.End()
	if err := tracing.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestStdoutTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	tracing, err := InitTracing(context.Background(), cfg, &buf, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "vista.action simulation.start")
	span.End()
	if err := tracing.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "vista.action simulation.start") {
		t.Fatalf("expected span in exporter output, got %q", buf.String())
	}
}

func TestTracingRejectsBadConfig(t *testing.T) {
	for _, cfg := range []TracingConfig{
		{Enabled: true, Exporter: "stdout", SampleRatio: 2},
		{Enabled: true, Exporter: "zipkin", SampleRatio: 1},
	} {
		if _, err := InitTracing(context.Background(), cfg, nil, nil); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}
