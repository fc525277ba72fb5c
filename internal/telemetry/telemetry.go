// Package telemetry initializes the OpenTelemetry SDK: a tracer
// provider and meter provider exporting OTLP over HTTP, registered as
// the global providers. Telemetry failures degrade gracefully; the
// daemon keeps running with no-op instrumentation.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// Config configures the telemetry providers.
type Config struct {
	// ServiceName and ServiceVersion identify the resource.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP HTTP endpoint (host:port). Empty disables
	// export entirely.
	Endpoint string

	// TracesEnabled and MetricsEnabled toggle the providers.
	TracesEnabled  bool
	MetricsEnabled bool

	// MetricInterval is the export interval (default: 30s).
	MetricInterval time.Duration
}

// Telemetry owns the SDK providers and their shutdown.
type Telemetry struct {
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// New initializes and registers the global providers. Exporter setup
// failures are logged, not fatal.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is required")
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricInterval == 0 {
		cfg.MetricInterval = 30 * time.Second
	}

	t := &Telemetry{}

	if cfg.Endpoint == "" || (!cfg.TracesEnabled && !cfg.MetricsEnabled) {
		return t, nil
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	endpoint := stripScheme(cfg.Endpoint)

	if cfg.TracesEnabled {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			logger.Warn("trace exporter setup failed; tracing disabled", zap.Error(err))
		} else {
			t.tracerProvider = trace.NewTracerProvider(
				trace.WithBatcher(exporter),
				trace.WithResource(res),
				trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
			)
			otel.SetTracerProvider(t.tracerProvider)
		}
	}

	if cfg.MetricsEnabled {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			logger.Warn("metric exporter setup failed; metrics disabled", zap.Error(err))
		} else {
			t.meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithResource(res),
				sdkmetric.WithReader(
					sdkmetric.NewPeriodicReader(exporter,
						sdkmetric.WithInterval(cfg.MetricInterval)),
				),
			)
			otel.SetMeterProvider(t.meterProvider)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// stripScheme removes http:// or https:// from an endpoint. The OTLP
// HTTP exporters expect host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}
