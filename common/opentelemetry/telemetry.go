package opentelemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrMissingCollectorEndpoint is returned when telemetry is enabled without
// an OTLP endpoint.
var ErrMissingCollectorEndpoint = errors.New("telemetry enabled without OTEL_EXPORTER_OTLP_ENDPOINT")

// TelemetryConfig selects whether spans, metrics and logs are exported to
// an OTLP collector over gRPC.
type TelemetryConfig struct {
	ServiceName               string `env:"OTEL_RESOURCE_SERVICE_NAME"           envDefault:"distribuidos"`
	ServiceVersion            string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	DeploymentEnv             string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT" envDefault:"production"`
	CollectorExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnableTelemetry           bool   `env:"ENABLE_TELEMETRY"                     envDefault:"false"`
}

// Telemetry owns the providers installed by NewTelemetry.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider

	shutdown []func(context.Context) error
}

// NewTelemetry builds OTLP exporters and installs the providers globally, so
// spans and counters recorded by the backend clients are exported. When
// telemetry is disabled the global no-op providers are left in place and the
// returned Telemetry has nil providers.
func NewTelemetry(ctx context.Context, cfg TelemetryConfig, logger log.Logger) (*Telemetry, error) {
	logger = log.OrNop(logger)

	if !cfg.EnableTelemetry {
		logger.Log(ctx, log.LevelWarn, "telemetry disabled")

		return &Telemetry{}, nil
	}

	endpoint := strings.TrimSpace(cfg.CollectorExporterEndpoint)
	if endpoint == "" {
		return nil, ErrMissingCollectorEndpoint
	}

	res := cfg.resource()

	traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
	}

	metricExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		_ = traceExp.Shutdown(ctx)

		return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
	}

	logExp, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(endpoint), otlploggrpc.WithInsecure())
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		_ = metricExp.Shutdown(ctx)

		return nil, fmt.Errorf("can't initialize logger exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	lp := sdklog.NewLoggerProvider(sdklog.WithResource(res), sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Log(ctx, log.LevelInfo, "telemetry initialized", log.String("endpoint", endpoint))

	// Providers shut down their own exporters.
	return &Telemetry{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		shutdown:       []func(context.Context) error{mp.Shutdown, tp.Shutdown, lp.Shutdown},
	}, nil
}

// Shutdown flushes and stops every installed provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	t.shutdown = nil

	return errors.Join(errs...)
}

func (cfg TelemetryConfig) resource() *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.DeploymentEnv),
		semconv.TelemetrySDKName(constant.TelemetryLibraryName),
		semconv.TelemetrySDKLanguageGo,
	)
}
