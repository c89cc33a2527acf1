//go:build unit

package connections

import (
	"os"
	"path/filepath"
	"testing"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullEnviron() map[string]string {
	return map[string]string{
		constant.EnvKafkaHost:         "kafka:9092",
		constant.EnvKafkaGroupID:      "detector",
		constant.EnvKafkaTopic:        "frames",
		constant.EnvRedisHost:         "cache",
		constant.EnvRedisPort:         "6379",
		constant.EnvRedisDB:           "1",
		constant.EnvCassandraHost:     "cassandra",
		constant.EnvCassandraPort:     "9042",
		constant.EnvCassandraKeyspace: "detections",
		constant.EnvLogLevel:          "debug",
	}
}

func TestParseBackends(t *testing.T) {
	all, err := ParseBackends("")
	require.NoError(t, err)
	assert.Equal(t, AllBackends(), all)

	some, err := ParseBackends(" Redis, kafka,redis ,")
	require.NoError(t, err)
	assert.Equal(t, []Backend{BackendRedis, BackendKafka}, some)

	_, err = ParseBackends("kafka,mysql")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "mysql")
}

func TestLoadConfigFrom_AllBackends(t *testing.T) {
	cfg, err := LoadConfigFrom(fullEnviron())
	require.NoError(t, err)

	require.NotNil(t, cfg.Kafka)
	assert.Equal(t, "kafka:9092", cfg.Kafka.Host)
	assert.Equal(t, "detector", cfg.Kafka.GroupID)

	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.Equal(t, 1, cfg.Redis.DB)

	require.NotNil(t, cfg.Cassandra)
	assert.Equal(t, []string{"cassandra"}, cfg.Cassandra.Hosts)
	assert.Equal(t, "detections", cfg.Cassandra.Keyspace)

	assert.Equal(t, zap.EnvironmentProduction, cfg.Log.Environment)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.EnableTelemetry)
	assert.Equal(t, "distribuidos", cfg.Telemetry.ServiceName)
}

func TestLoadConfigFrom_Telemetry(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{
		"REDIS_HOST":                  "cache",
		"ENABLE_TELEMETRY":            "true",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4317",
		"OTEL_RESOURCE_SERVICE_NAME":  "detector",
	}, BackendRedis)
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.EnableTelemetry)
	assert.Equal(t, "collector:4317", cfg.Telemetry.CollectorExporterEndpoint)
	assert.Equal(t, "detector", cfg.Telemetry.ServiceName)
}

func TestLoadConfigFrom_InvalidTelemetryFlag(t *testing.T) {
	_, err := LoadConfigFrom(map[string]string{"REDIS_HOST": "cache", "ENABLE_TELEMETRY": "maybe"}, BackendRedis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry config")
}

func TestLoadConfigFrom_OnlyRequestedBackends(t *testing.T) {
	cfg, err := LoadConfigFrom(map[string]string{"REDIS_HOST": "cache"}, BackendRedis)
	require.NoError(t, err)

	assert.NotNil(t, cfg.Redis)
	assert.Nil(t, cfg.Kafka)
	assert.Nil(t, cfg.Cassandra)
}

func TestLoadConfigFrom_ReportsEveryMissingVariable(t *testing.T) {
	_, err := LoadConfigFrom(map[string]string{}, BackendKafka, BackendRedis, BackendCassandra)
	require.Error(t, err)

	for _, name := range []string{"KAFKA_HOST", "REDIS_HOST", "CASSANDRA_HOST", "CASSANDRA_KEYSPACE"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestLoadConfigFrom_UnknownBackend(t *testing.T) {
	_, err := LoadConfigFrom(fullEnviron(), Backend("mysql"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

// unsetAfter removes keys a dotenv file may have written to the process
// environment.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()

	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestLoadConfig_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_HOST=from-file\nREDIS_DB=4\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	unsetAfter(t, "REDIS_HOST", "REDIS_DB")

	cfg, err := LoadConfig(BackendRedis)
	require.NoError(t, err)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "from-file", cfg.Redis.Host)
	assert.Equal(t, 4, cfg.Redis.DB)
}

func TestLoadConfig_ProcessEnvironmentWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_HOST=from-file\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("REDIS_HOST", "from-env")

	cfg, err := LoadConfig(BackendRedis)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Redis.Host)
}

func TestLoadConfig_MissingExplicitEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("REDIS_HOST", "cache")

	_, err := LoadConfig(BackendRedis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.env")
}

func TestLoadConfig_MissingDefaultEnvFileIgnored(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV_FILE", "")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := LoadConfig(BackendRedis)
	require.NoError(t, err)
	assert.Equal(t, "cache", cfg.Redis.Host)
}

func TestLoadConfig_MissingVariableIsAnError(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV_FILE", "")
	t.Setenv("REDIS_HOST", "")
	require.NoError(t, os.Unsetenv("REDIS_HOST"))

	_, err := LoadConfig(BackendRedis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_HOST")
}
