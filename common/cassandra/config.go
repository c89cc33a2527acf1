package cassandra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gocql/gocql"
)

// Defaults applied when the matching variable is unset.
const (
	DefaultPort              = 9042
	DefaultConsistency       = "QUORUM"
	DefaultTimeout           = 10 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultReconnectAttempts = 6
	DefaultReconnectInterval = 10 * time.Second
)

// ErrInvalidConfig indicates the provided cassandra configuration is invalid.
var ErrInvalidConfig = errors.New("invalid cassandra config")

// Config holds contact points, credentials and session settings.
type Config struct {
	Hosts    []string `env:"CASSANDRA_HOST,required" envSeparator:","`
	Port     int      `env:"CASSANDRA_PORT" envDefault:"9042"`
	User     string   `env:"CASSANDRA_USER"`
	Password string   `env:"CASSANDRA_PASSWORD"`
	Keyspace string   `env:"CASSANDRA_KEYSPACE,required"`

	Consistency    string        `env:"CASSANDRA_CONSISTENCY" envDefault:"QUORUM"`
	Timeout        time.Duration `env:"CASSANDRA_TIMEOUT" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"CASSANDRA_CONNECT_TIMEOUT" envDefault:"10s"`

	// Handed to the driver's reconnection policy for hosts that go down.
	ReconnectAttempts int           `env:"CASSANDRA_RECONNECT_ATTEMPTS" envDefault:"6"`
	ReconnectInterval time.Duration `env:"CASSANDRA_RECONNECT_INTERVAL" envDefault:"10s"`
}

// String returns a redacted representation to prevent accidental credential logging.
func (c Config) String() string {
	return fmt.Sprintf("cassandra.Config{Hosts:%v, Port:%d, User:%s, Password:REDACTED, Keyspace:%s}",
		c.Hosts, c.Port, c.User, c.Keyspace)
}

// GoString returns a redacted representation for fmt %#v.
func (c Config) GoString() string { return c.String() }

// LoadConfig parses Config from the process environment.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(nil)
}

// LoadConfigFrom parses Config from environ. A nil map reads the process
// environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("cassandra config: %w", err)
	}

	return cfg, nil
}

func normalizeConfig(cfg Config) Config {
	hosts := make([]string, 0, len(cfg.Hosts))

	for _, h := range cfg.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}

	cfg.Hosts = hosts
	cfg.Keyspace = strings.TrimSpace(cfg.Keyspace)

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if strings.TrimSpace(cfg.Consistency) == "" {
		cfg.Consistency = DefaultConsistency
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}

	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}

	return cfg
}

func (c Config) validate() error {
	if len(c.Hosts) == 0 {
		return configError("at least one host is required")
	}

	if c.Keyspace == "" {
		return configError("keyspace is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return configError(fmt.Sprintf("port %d is out of range", c.Port))
	}

	if c.Password != "" && c.User == "" {
		return configError("password is set without a user")
	}

	if _, err := gocql.ParseConsistencyWrapper(c.Consistency); err != nil {
		return configError(fmt.Sprintf("unknown consistency %q", c.Consistency))
	}

	return nil
}

// clusterConfig translates c into a gocql cluster definition. c must be
// normalized and valid.
func (c Config) clusterConfig() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Port = c.Port
	cluster.Keyspace = c.Keyspace
	cluster.Consistency, _ = gocql.ParseConsistencyWrapper(c.Consistency)
	cluster.Timeout = c.Timeout
	cluster.ConnectTimeout = c.ConnectTimeout
	cluster.ReconnectionPolicy = &gocql.ConstantReconnectionPolicy{
		MaxRetries: c.ReconnectAttempts,
		Interval:   c.ReconnectInterval,
	}

	if c.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.User,
			Password: c.Password,
		}
	}

	return cluster
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
