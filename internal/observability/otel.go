// Package observability configures OpenTelemetry tracing for the router.
//
// Traces cover the full ingest path: the Gin middleware (otelgin) starts a
// span per request, the gorm plugin adds persistence spans under it, and
// dispatch propagates the context over gRPC. Export is OTLP over gRPC to a
// collector; propagation uses W3C TraceContext plus Baggage.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/openflux/eventrouter/internal/config"
)

// noopShutdown satisfies the shutdown contract when tracing is disabled.
func noopShutdown(context.Context) error { return nil }

// serviceResource describes this process to the collector.
func serviceResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	)
}

// exporterOptions builds the OTLP gRPC client options from config. TLS uses
// the system root pool unless OTEL_EXPORTER_INSECURE is set.
func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return opts
}

// SetupOTel installs the global tracer provider and propagators and returns
// the provider's shutdown function. When tracing is disabled it returns a
// no-op shutdown and no error, so callers can defer unconditionally.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(exporterOptions(cfg)...))
	if err != nil {
		return nil, err
	}
	res, err := serviceResource(ctx, cfg.ServiceName, version)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		// Honor upstream sampling decisions from adapters; sample locally
		// at the configured ratio for root spans.
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
