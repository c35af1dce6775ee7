package observability

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const meterName = "pcoservices/server/internal/observability"

// InitTelemetry installs OTLP/HTTP trace and metric providers. With an empty
// endpoint the global no-op providers stay in place.
func InitTelemetry(ctx context.Context, endpoint, serviceName, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	endpoint = strings.TrimRight(endpoint, "/")

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint+"/v1/traces"))
	if err != nil {
		return nil, errors.Wrap(err, "create trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint+"/v1/metrics"))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, errors.Wrap(err, "create metric exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		terr := tp.Shutdown(ctx)
		merr := mp.Shutdown(ctx)
		if terr != nil {
			return errors.Wrap(terr, "shutdown tracer provider")
		}
		if merr != nil {
			return errors.Wrap(merr, "shutdown meter provider")
		}
		return nil
	}, nil
}

// recordToolMetrics counts a tool call and records its duration. The SDK
// returns the same instrument for repeated registrations of one name.
func recordToolMetrics(module, tool, status string, durationMs int64) {
	meter := otel.Meter(meterName)
	attrs := metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("tool", tool),
		attribute.String("status", status),
	)

	if calls, err := meter.Int64Counter("pco_mcp.tool.calls",
		metric.WithDescription("Tool invocations")); err == nil {
		calls.Add(context.Background(), 1, attrs)
	}
	if dur, err := meter.Int64Histogram("pco_mcp.tool.duration",
		metric.WithDescription("Tool invocation duration"),
		metric.WithUnit("ms")); err == nil {
		dur.Record(context.Background(), durationMs, attrs)
	}
}
