package connections

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Evantastic/distribuidos-12020-common/common/cassandra"
	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/kafka"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	"github.com/Evantastic/distribuidos-12020-common/common/redis"
	"github.com/Evantastic/distribuidos-12020-common/common/zap"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend names one of the supported services.
type Backend string

const (
	BackendKafka     Backend = "kafka"
	BackendRedis     Backend = "redis"
	BackendCassandra Backend = "cassandra"
)

// ErrUnknownBackend is returned for a backend name outside AllBackends.
var ErrUnknownBackend = errors.New("unknown backend")

// AllBackends returns every supported backend in a stable order.
func AllBackends() []Backend {
	return []Backend{BackendKafka, BackendRedis, BackendCassandra}
}

// ParseBackends parses a comma-separated list such as "kafka,redis".
// An empty string yields AllBackends.
func ParseBackends(s string) ([]Backend, error) {
	if strings.TrimSpace(s) == "" {
		return AllBackends(), nil
	}

	var backends []Backend

	seen := make(map[Backend]bool)

	for _, part := range strings.Split(s, ",") {
		b := Backend(strings.ToLower(strings.TrimSpace(part)))
		if b == "" || seen[b] {
			continue
		}

		switch b {
		case BackendKafka, BackendRedis, BackendCassandra:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, part)
		}

		seen[b] = true
		backends = append(backends, b)
	}

	return backends, nil
}

// Config is the configuration of every backend a service uses. A nil
// section means the backend is not used; its accessor returns
// ErrNotConfigured.
type Config struct {
	Kafka     *kafka.Config
	Redis     *redis.Config
	Cassandra *cassandra.Config
	Log       zap.Config
	Telemetry libOpentelemetry.TelemetryConfig
}

// LoadConfig loads the optional env file named by ENV_FILE (default .env),
// then parses the sections for the requested backends from the process
// environment. No backends means all of them. Every failing section is
// reported.
func LoadConfig(backends ...Backend) (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	return LoadConfigFrom(nil, backends...)
}

// LoadConfigFrom is LoadConfig over environ instead of the process
// environment, without the env file step. A nil map reads the process
// environment.
func LoadConfigFrom(environ map[string]string, backends ...Backend) (Config, error) {
	if len(backends) == 0 {
		backends = AllBackends()
	}

	var (
		cfg  Config
		errs []error
	)

	logCfg, err := env.ParseAsWithOptions[zap.Config](env.Options{Environment: environ})
	if err != nil {
		errs = append(errs, fmt.Errorf("log config: %w", err))
	}

	cfg.Log = logCfg

	telCfg, err := env.ParseAsWithOptions[libOpentelemetry.TelemetryConfig](env.Options{Environment: environ})
	if err != nil {
		errs = append(errs, fmt.Errorf("telemetry config: %w", err))
	}

	cfg.Telemetry = telCfg

	for _, b := range backends {
		switch b {
		case BackendKafka:
			c, err := kafka.LoadConfigFrom(environ)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			cfg.Kafka = &c
		case BackendRedis:
			c, err := redis.LoadConfigFrom(environ)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			cfg.Redis = &c
		case BackendCassandra:
			c, err := cassandra.LoadConfigFrom(environ)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			cfg.Cassandra = &c
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, b))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadEnvFile reads ENV_FILE, or .env when unset. Variables already in the
// environment win. A missing default file is ignored; a missing file that
// was named explicitly is an error.
func loadEnvFile() error {
	path, explicit := os.LookupEnv(constant.EnvFile)
	if !explicit || strings.TrimSpace(path) == "" {
		path = constant.DefaultEnvFile
		explicit = false
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}
