// Package telemetry installs OpenTelemetry trace and metric providers that export over OTLP/HTTP.
// Without an endpoint the global no-op providers stay in place.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"heatbot/internal/config"
)

type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// Enabled reports whether providers were installed.
func (t Telemetry) Enabled() bool { return t.TracerProvider != nil }

// Shutdown flushes and stops the providers. It is a no-op when telemetry is disabled.
func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func newResource(serviceName, version, environment string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(environment),
		),
	)
}

// Setup installs global providers when cfg.Telemetry.OTLPEndpoint is set.
func Setup(ctx context.Context, cfg config.Config, logger *zap.Logger) (Telemetry, error) {
	tc := cfg.Telemetry
	if tc.OTLPEndpoint == "" {
		logger.Debug("telemetry export disabled")
		return Telemetry{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	name := tc.ServiceName
	if name == "" {
		name = cfg.Server.Name
	}
	r, err := newResource(name, cfg.Server.Version, cfg.Server.Environment)
	if err != nil {
		return Telemetry{}, err
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(tc.OTLPEndpoint),
		otlptracehttp.WithHeaders(tc.Headers),
	)
	if err != nil {
		return Telemetry{}, err
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(r),
	)

	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(tc.OTLPEndpoint),
		otlpmetrichttp.WithHeaders(tc.Headers),
	)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return Telemetry{}, err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(15*time.Second))),
		metric.WithResource(r),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("telemetry export initialized",
		zap.String("endpoint", tc.OTLPEndpoint),
		zap.Bool("headers", len(tc.Headers) > 0),
		zap.String("service", name))
	return Telemetry{TracerProvider: tp, MeterProvider: mp}, nil
}
