package opentelemetry

import (
	"context"
	"sync"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricConnectionFailures = "backend_connection_failures_total"
	metricReconnections      = "backend_reconnections_total"
)

type connectionCounters struct {
	failures      metric.Int64Counter
	reconnections metric.Int64Counter
}

// Instruments are created against the global MeterProvider, which delegates to
// whatever provider the application installs later.
var counters = sync.OnceValues(func() (connectionCounters, error) {
	meter := otel.Meter(constant.TelemetryLibraryName)

	failures, err := meter.Int64Counter(metricConnectionFailures,
		metric.WithUnit("1"),
		metric.WithDescription("Total number of backend connection failures"))
	if err != nil {
		return connectionCounters{}, err
	}

	reconnections, err := meter.Int64Counter(metricReconnections,
		metric.WithUnit("1"),
		metric.WithDescription("Total number of backend reconnection attempts"))
	if err != nil {
		return connectionCounters{}, err
	}

	return connectionCounters{failures: failures, reconnections: reconnections}, nil
})

// RecordConnectionFailure increments the connection failure counter for system.
func RecordConnectionFailure(ctx context.Context, system, operation string) error {
	c, err := counters()
	if err != nil {
		return err
	}

	c.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(constant.AttrDBSystem, system),
		attribute.String(constant.AttrOperation, constant.SanitizeMetricLabel(operation)),
	))

	return nil
}

// RecordReconnection increments the reconnection counter for system with the
// attempt outcome ("success" or "failure").
func RecordReconnection(ctx context.Context, system, result string) error {
	c, err := counters()
	if err != nil {
		return err
	}

	c.reconnections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(constant.AttrDBSystem, system),
		attribute.String(constant.AttrResult, result),
	))

	return nil
}
