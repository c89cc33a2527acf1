//go:build unit

package opentelemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewTelemetry_Disabled(t *testing.T) {
	tel, err := NewTelemetry(context.Background(), TelemetryConfig{}, nil)
	require.NoError(t, err)

	assert.Nil(t, tel.TracerProvider)
	assert.Nil(t, tel.MeterProvider)
	assert.Nil(t, tel.LoggerProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewTelemetry_EnabledWithoutEndpoint(t *testing.T) {
	_, err := NewTelemetry(context.Background(), TelemetryConfig{EnableTelemetry: true, CollectorExporterEndpoint: "  "}, nil)
	assert.ErrorIs(t, err, ErrMissingCollectorEndpoint)
}

func TestTelemetry_ShutdownNil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetryConfig_Resource(t *testing.T) {
	res := TelemetryConfig{ServiceName: "detector", ServiceVersion: "1.2.0", DeploymentEnv: "staging"}.resource()

	values := map[string]string{}
	for _, kv := range res.Attributes() {
		values[string(kv.Key)] = kv.Value.Emit()
	}

	assert.Equal(t, "detector", values[string(semconv.ServiceNameKey)])
	assert.Equal(t, "1.2.0", values[string(semconv.ServiceVersionKey)])
	assert.Equal(t, "staging", values[string(semconv.DeploymentEnvironmentKey)])
}
