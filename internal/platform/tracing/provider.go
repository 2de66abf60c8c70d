package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/internal/platform/tracing/exporters"
)

type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLP           exporters.OTLPConfig
	// Console logs finished spans instead of shipping them to a collector.
	Console bool
}

// Provider owns the sdk tracer provider registered as the global one.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds the exporter, registers the global tracer provider and
// propagator, and points SetTracer at the service tracer.
func NewProvider(ctx context.Context, config ProviderConfig, logger ectologger.Logger) (*Provider, error) {
	var exporter sdktrace.SpanExporter
	if config.Console {
		exporter = exporters.NewConsoleExporter(logger)
	} else {
		otlpExporter, err := exporters.NewOTLPExporter(ctx, config.OTLP)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = otlpExporter
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", config.ServiceName),
		attribute.String("service.version", config.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(tp.Tracer(config.ServiceName))

	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
