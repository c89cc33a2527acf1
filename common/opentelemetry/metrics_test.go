//go:build unit

package opentelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestConnectionCountersReachInstalledProvider(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	ctx := context.Background()
	require.NoError(t, RecordConnectionFailure(ctx, "redis", "connect"))
	require.NoError(t, RecordConnectionFailure(ctx, "redis", "connect"))
	require.NoError(t, RecordReconnection(ctx, "redis", "success"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), totals[metricConnectionFailures])
	assert.Equal(t, int64(1), totals[metricReconnections])
}
