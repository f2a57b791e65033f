package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: JAEGER INTEGRATION

  docqa → OpenTelemetry SDK → Jaeger exporter → collector → Jaeger UI

Spans are created through the global provider. When tracing is disabled
nothing is registered and otel's default provider turns every span into a
no-op, so the services never check a flag.
*/

// Shutdown flushes pending spans
type Shutdown func(context.Context) error

// Options selects the exporter
type Options struct {
	Enabled     bool
	ServiceName string
	Version     string
	Endpoint    string  // collector endpoint, e.g. http://localhost:14268/api/traces
	SampleRatio float64 // 0 or >= 1 samples everything
}

// Init registers a Jaeger-backed tracer provider when enabled. The returned
// Shutdown is never nil.
func Init(opts Options) (Shutdown, error) {
	if !opts.Enabled {
		log.Printf("⚠️  Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.Endpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s", opts.Endpoint)
	return tp.Shutdown, nil
}

// Learning: ParentBased keeps a trace whole when an upstream service already decided
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
