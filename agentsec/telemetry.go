package agentsec

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TelemetryConfig configures the optional OTLP-over-gRPC exporters for
// the spans httpclient.Client already creates around every outbound
// inspection/gateway call (§5 "ambient" observability). Telemetry is
// opt-in: a zero Runtime never installs an SDK TracerProvider/
// MeterProvider, so the default global providers (no-ops) are used and
// importing this module never forces a collector dependency on a
// caller that doesn't configure one.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector address, e.g. "localhost:4317".
	// Empty disables telemetry setup entirely.
	OTLPEndpoint string
	Insecure     bool
}

// telemetryShutdown is returned by setupTelemetry and invoked from
// Runtime.Close to flush and tear down the exporters.
type telemetryShutdown func(context.Context) error

func setupTelemetry(ctx context.Context, cfg TelemetryConfig) (telemetryShutdown, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("agentsec: building OTLP trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("agentsec: building OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}
