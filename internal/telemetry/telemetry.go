// Package telemetry wires the OpenTelemetry trace provider. Metrics go
// through Prometheus instead; the operator server scrapes them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config holds telemetry configuration.
type Config struct {
	// Enabled turns trace export on. When false, Setup is a no-op and
	// spans are never sampled.
	Enabled bool

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string

	// ServiceName identifies this service in traces. Default: "corpusd"
	ServiceName string

	// ServiceVersion is the build version attached to the resource.
	ServiceVersion string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Shutdown flushes and stops the provider. Safe to call on a no-op setup.
type Shutdown func(ctx context.Context) error

// Setup installs the global tracer provider. Returns a shutdown function
// that must be called before exit.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "corpusd"
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	// Standalone resource to avoid schema URL conflicts with
	// resource.Default(), which may use another semconv version.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
