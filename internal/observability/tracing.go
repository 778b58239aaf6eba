package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

// TracingConfig governs how action spans are exported.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // stdout | none
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultTracingConfig leaves tracing off.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{ServiceName: "vista-mirror", Exporter: "stdout", SampleRatio: 1}
}

// Tracing owns the installed provider.
type Tracing struct {
	Provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Tracer returns a named tracer from the installed provider.
func (t *Tracing) Tracer(name string) trace.Tracer {
	return t.Provider.Tracer(name)
}

// Shutdown flushes pending spans, bounded by a five second timeout.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.shutdown(ctx)
}

// InitTracing installs a tracer provider and propagators. Spans go to w
// (stdout when nil) for the stdout exporter; disabled tracing installs a noop
// provider.
func InitTracing(ctx context.Context, cfg TracingConfig, w io.Writer, logger telemetry.Logger) (*Tracing, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if !cfg.Enabled || strings.EqualFold(cfg.Exporter, "none") {
		provider := noop.NewTracerProvider()
		otel.SetTracerProvider(provider)
		return &Tracing{Provider: provider}, nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("tracing sample ratio %v outside [0,1]", cfg.SampleRatio)
	}
	if w == nil {
		w = os.Stdout
	}

	var exporter sdktrace.SpanExporter
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultTracingConfig().ServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("service.namespace", "vista"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Printf("tracing enabled: exporter=%s service=%s ratio=%.2f", cfg.Exporter, serviceName, cfg.SampleRatio)
	return &Tracing{Provider: provider, shutdown: provider.Shutdown}, nil
}
