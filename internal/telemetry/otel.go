package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dgellow/bff-front/internal/log"
)

// Options controls tracing. Tracing is opt-in: with an empty Endpoint or
// Enabled=false no provider is installed and spans go to the global no-op
// tracer.
type Options struct {
	ServiceName string
	Endpoint    string
	Enabled     bool
}

// Setup installs an OTLP/HTTP tracer provider. The returned shutdown function
// flushes pending spans and must be called before exit.
func Setup(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !opts.Enabled || opts.Endpoint == "" {
		log.LogDebugWithFields("telemetry", "Tracing disabled", nil)
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return noop, err
	}

	name := opts.ServiceName
	if name == "" {
		name = "bff-front"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.LogInfoWithFields("telemetry", "Tracing enabled", map[string]any{
		"endpoint": opts.Endpoint,
		"service":  name,
	})
	return tp.Shutdown, nil
}
