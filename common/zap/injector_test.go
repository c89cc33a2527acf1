//go:build unit

package zap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsInvalidEnvironment(t *testing.T) {
	_, err := New(Config{Environment: "moon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment")
}

func TestNewDefaultsToProductionInfo(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, logger.Level().Level())
}

func TestNewDevelopmentDefaultsToDebug(t *testing.T) {
	logger, err := New(Config{Environment: EnvironmentLocal})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, logger.Level().Level())
}

func TestNewAppliesCustomLevel(t *testing.T) {
	logger, err := New(Config{Environment: EnvironmentStaging, Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, logger.Level().Level())
}

func TestNewRejectsInvalidCustomLevel(t *testing.T) {
	_, err := New(Config{Environment: EnvironmentProduction, Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid level")
}

func TestBuildConfigByEnvironment(t *testing.T) {
	dev := buildConfigByEnvironment(EnvironmentDevelopment)
	assert.True(t, dev.Development)
	assert.Equal(t, "json", dev.Encoding)

	prod := buildConfigByEnvironment(EnvironmentProduction)
	assert.False(t, prod.Development)
	assert.Equal(t, "json", prod.Encoding)
}
