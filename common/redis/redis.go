package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Evantastic/distribuidos-12020-common/common/backoff"
	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// reconnectBackoffBase is the first delay enforced after a failed reconnect.
	reconnectBackoffBase = 500 * time.Millisecond
	// reconnectBackoffCap is the maximum delay between reconnect attempts.
	reconnectBackoffCap = 30 * time.Second
)

// ErrNilClient is returned when a redis client receiver is nil.
var ErrNilClient = errors.New("redis client is nil")

// Status reports client connectivity.
type Status struct {
	Connected         bool
	LastError         error
	ReconnectAttempts int
}

// Client wraps a go-redis client with on-demand reconnection.
type Client struct {
	mu        sync.RWMutex
	cfg       Config
	logger    log.Logger
	client    *redis.Client
	connected bool
	lastErr   error

	// Reconnect rate-limiting: prevents reconnect storms while the server
	// is down by enforcing exponential backoff between attempts.
	lastReconnectAttempt time.Time
	reconnectAttempts    int
}

// New validates cfg, connects and pings the server, and returns a ready client.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    normalized,
		logger: log.OrNop(logger).With(log.String("component", "redis")),
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect establishes a connection using the client configuration,
// replacing any existing one.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	ctx, span := otel.Tracer("redis").Start(ctx, "redis.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = log.NewNop()
	}

	if err := c.connectLocked(ctx); err != nil {
		_ = libOpentelemetry.RecordConnectionFailure(ctx, constant.DBSystemRedis, "connect")

		libOpentelemetry.HandleSpanError(span, "Failed to connect to redis", err)

		return err
	}

	return nil
}

// GetClient returns the connected go-redis client, reconnecting on demand
// if the connection was closed. Failed reconnects are rate limited.
func (c *Client) GetClient(ctx context.Context) (*redis.Client, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()

	if c.client != nil {
		client := c.client
		c.mu.RUnlock()

		return client, nil
	}

	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logger == nil {
		c.logger = log.NewNop()
	}

	if c.client != nil {
		return c.client, nil
	}

	if c.reconnectAttempts > 0 {
		delay := backoff.Capped(reconnectBackoffBase, c.reconnectAttempts, reconnectBackoffCap)

		if elapsed := time.Since(c.lastReconnectAttempt); elapsed < delay {
			return nil, fmt.Errorf("redis reconnect: rate-limited (next attempt in %s)", delay-elapsed)
		}
	}

	c.lastReconnectAttempt = time.Now()

	ctx, span := otel.Tracer("redis").Start(ctx, "redis.reconnect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	if err := c.connectLocked(ctx); err != nil {
		c.reconnectAttempts++

		_ = libOpentelemetry.RecordConnectionFailure(ctx, constant.DBSystemRedis, "reconnect")
		_ = libOpentelemetry.RecordReconnection(ctx, constant.DBSystemRedis, "failure")

		libOpentelemetry.HandleSpanError(span, "Failed to reconnect redis", err)

		return nil, err
	}

	c.reconnectAttempts = 0

	_ = libOpentelemetry.RecordReconnection(ctx, constant.DBSystemRedis, "success")

	return c.client, nil
}

// Ping checks the server and updates the reported connectivity.
func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.GetClient(ctx)
	if err != nil {
		return err
	}

	pingErr := rdb.Ping(ctx).Err()

	c.mu.Lock()
	c.connected = pingErr == nil
	c.lastErr = pingErr
	c.mu.Unlock()

	if pingErr != nil {
		return fmt.Errorf("redis ping: %w", pingErr)
	}

	return nil
}

// Close closes the underlying client. A later GetClient reconnects.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	_, span := otel.Tracer("redis").Start(context.Background(), "redis.close")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeClientLocked(); err != nil {
		libOpentelemetry.HandleSpanError(span, "Failed to close redis client", err)

		return err
	}

	return nil
}

// Status returns a snapshot of connectivity state.
func (c *Client) Status() (Status, error) {
	if c == nil {
		return Status{}, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		Connected:         c.connected,
		LastError:         c.lastErr,
		ReconnectAttempts: c.reconnectAttempts,
	}, nil
}

// IsConnected reports whether the underlying client is currently connected.
func (c *Client) IsConnected() (bool, error) {
	status, err := c.Status()
	if err != nil {
		return false, err
	}

	return status.Connected, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.logger.Log(ctx, log.LevelInfo, "connecting to redis", log.String("addr", c.cfg.Addr()), log.Int("db", c.cfg.DB))

	opts, err := c.buildOptions()
	if err != nil {
		c.lastErr = err

		return fmt.Errorf("redis connect: build options: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		c.logger.Log(ctx, log.LevelError, "redis ping failed", log.Err(err))
		c.lastErr = err

		return fmt.Errorf("redis connect: ping: %w", err)
	}

	if c.client != nil {
		if err := c.closeClientLocked(); err != nil {
			c.logger.Log(ctx, log.LevelWarn, "close of previous client failed", log.Err(err))
		}
	}

	c.client = rdb
	c.connected = true
	c.lastErr = nil

	if !c.cfg.TLSEnabled() {
		c.logger.Log(ctx, log.LevelWarn, "redis connection established without TLS")
	}

	c.logger.Log(ctx, log.LevelInfo, "connected to redis")

	return nil
}

func (c *Client) closeClientLocked() error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.connected = false

	return err
}

func (c *Client) buildOptions() (*redis.Options, error) {
	// A zero-value Client has no host; go-redis would silently fall back to
	// localhost:6379.
	if err := validateConfig(c.cfg); err != nil {
		return nil, err
	}

	o := c.cfg.Options
	opts := &redis.Options{
		Addr:         c.cfg.Addr(),
		Password:     c.cfg.Password,
		DB:           c.cfg.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		MaxRetries:   o.MaxRetries,
	}

	if c.cfg.TLSEnabled() {
		tlsCfg, err := buildTLSConfig(c.cfg.TLSCACertBase64)
		if err != nil {
			return nil, fmt.Errorf("TLS config: %w", err)
		}

		opts.TLSConfig = tlsCfg
	}

	return opts, nil
}
