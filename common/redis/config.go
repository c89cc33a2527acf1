package redis

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const maxPoolSize = 1000

// ErrInvalidConfig indicates the provided redis configuration is invalid.
var ErrInvalidConfig = errors.New("invalid redis config")

// Config holds the cache server address, credentials and pool settings.
type Config struct {
	Host     string `env:"REDIS_HOST,required"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Password string `env:"REDIS_PASSWORD"`

	// TLSCACertBase64 enables TLS when set. The value is a base64-encoded PEM bundle.
	TLSCACertBase64 string `env:"REDIS_TLS_CA_CERT_BASE64"`

	Options ConnectionOptions
}

// ConnectionOptions configures pool size, timeouts and retries.
type ConnectionOptions struct {
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
}

// String returns a redacted representation to prevent accidental credential logging.
func (c Config) String() string {
	return fmt.Sprintf("redis.Config{Addr:%s, DB:%d, Password:REDACTED, TLS:%t}", c.Addr(), c.DB, c.TLSEnabled())
}

// GoString returns a redacted representation for fmt %#v.
func (c Config) GoString() string { return c.String() }

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSEnabled reports whether a CA bundle was configured.
func (c Config) TLSEnabled() bool {
	return strings.TrimSpace(c.TLSCACertBase64) != ""
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(nil)
}

// LoadConfigFrom parses Config from environ. A nil map reads the process
// environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("redis config: %w", err)
	}

	return cfg, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Port == 0 {
		cfg.Port = 6379
	}

	normalizeConnectionOptionsDefaults(&cfg.Options)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func normalizeConnectionOptionsDefaults(options *ConnectionOptions) {
	if options.PoolSize == 0 {
		options.PoolSize = 10
	}

	if options.PoolSize > maxPoolSize {
		options.PoolSize = maxPoolSize
	}

	if options.DialTimeout == 0 {
		options.DialTimeout = 5 * time.Second
	}

	if options.ReadTimeout == 0 {
		options.ReadTimeout = 3 * time.Second
	}

	if options.WriteTimeout == 0 {
		options.WriteTimeout = 3 * time.Second
	}

	if options.MaxRetries == 0 {
		options.MaxRetries = 3
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return configError("host is required")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return configError(fmt.Sprintf("port %d is out of range", cfg.Port))
	}

	if cfg.DB < 0 {
		return configError("db index cannot be negative")
	}

	return nil
}

func buildTLSConfig(caCertBase64 string) (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(caCertBase64)
	if err != nil {
		return nil, err
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("adding CA cert failed")
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
