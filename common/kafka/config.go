package kafka

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Defaults applied when the matching variable is unset.
const (
	DefaultAutoOffsetReset = "earliest"
	DefaultFlushTimeout    = 15 * time.Second
)

var (
	// ErrInvalidConfig indicates the provided kafka configuration is invalid.
	ErrInvalidConfig = errors.New("invalid kafka config")
)

// Config holds broker settings for both the producer and the consumer.
type Config struct {
	Host            string        `env:"KAFKA_HOST,required"`                           // bootstrap.servers
	GroupID         string        `env:"KAFKA_GROUPID"`                                 // consumer group, consumer only
	Topic           string        `env:"KAFKA_TOPIC"`                                   // subscribed topic and default produce topic
	AutoOffsetReset string        `env:"KAFKA_AUTO_OFFSET_RESET" envDefault:"earliest"` // where a new group starts reading
	FlushTimeout    time.Duration `env:"KAFKA_FLUSH_TIMEOUT" envDefault:"15s"`          // producer flush on Close
	EnableLogs      bool          `env:"KAFKA_ENABLE_LOGS" envDefault:"false"`          // forward librdkafka logs
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
		return Config{}, fmt.Errorf("kafka config: %w", err)
	}

	return cfg, nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AutoOffsetReset) == "" {
		c.AutoOffsetReset = DefaultAutoOffsetReset
	}

	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}

	return c
}

func (c Config) validateProducer() error {
	if strings.TrimSpace(c.Host) == "" {
		return configError("host is required")
	}

	return nil
}

func (c Config) validateConsumer() error {
	if err := c.validateProducer(); err != nil {
		return err
	}

	if strings.TrimSpace(c.GroupID) == "" {
		return configError("group id is required for a consumer")
	}

	if strings.TrimSpace(c.Topic) == "" {
		return configError("topic is required for a consumer")
	}

	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
