package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Evantastic/distribuidos-12020-common/common/cassandra"
	"github.com/Evantastic/distribuidos-12020-common/common/kafka"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	"github.com/Evantastic/distribuidos-12020-common/common/redis"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConfigured is returned by an accessor whose config section is nil.
	ErrNotConfigured = errors.New("backend is not configured")
	// ErrClosed is returned by accessors after Close.
	ErrClosed = errors.New("connections are closed")
	// ErrRateLimited is returned when a failed build is retried too soon.
	ErrRateLimited = errors.New("backend build rate-limited")
	// ErrNilConnections is returned when a *Connections receiver is nil.
	ErrNilConnections = errors.New("connections is nil")
)

// Option configures New.
type Option func(*Connections)

// WithLogger sets the logger handed to every backend. Default is a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Connections) {
		c.logger = log.OrNop(logger)
	}
}

// WithCassandraOptions forwards opts to cassandra.New.
func WithCassandraOptions(opts ...cassandra.Option) Option {
	return func(c *Connections) {
		c.cassandraOpts = append(c.cassandraOpts, opts...)
	}
}

type builders struct {
	producer func(context.Context, kafka.Config, log.Logger) (*kafka.Producer, error)
	consumer func(context.Context, kafka.Config, log.Logger) (*kafka.Consumer, error)
	cache    func(context.Context, redis.Config, log.Logger) (*redis.Client, error)
	session  func(context.Context, cassandra.Config, log.Logger, ...cassandra.Option) (*cassandra.Client, error)
}

func defaultBuilders() builders {
	return builders{
		producer: kafka.NewProducer,
		consumer: kafka.NewConsumer,
		cache:    redis.New,
		session:  cassandra.New,
	}
}

// Connections owns the lazily built backend handles of one service.
type Connections struct {
	cfg           Config
	logger        log.Logger
	cassandraOpts []cassandra.Option
	build         builders

	// Kafka handles run background goroutines bound to baseCtx rather than
	// to the context of the call that happened to build them.
	baseCtx context.Context
	cancel  context.CancelFunc

	producer lazy[*kafka.Producer]
	consumer lazy[*kafka.Consumer]
	cache    lazy[*redis.Client]
	session  lazy[*cassandra.Client]

	closeOnce sync.Once
	closeErr  error
}

// New returns a container for cfg. No connection is made until an
// accessor is called. At least one backend section must be set.
func New(cfg Config, opts ...Option) (*Connections, error) {
	if cfg.Kafka == nil && cfg.Redis == nil && cfg.Cassandra == nil {
		return nil, fmt.Errorf("connections: %w", ErrNotConfigured)
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	c := &Connections{
		cfg:     cfg,
		logger:  log.NewNop(),
		build:   defaultBuilders(),
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Config returns the configuration the container was built with.
func (c *Connections) Config() Config {
	if c == nil {
		return Config{}
	}

	return c.cfg
}

// Producer returns the Kafka producer, building it on first use.
func (c *Connections) Producer(ctx context.Context) (*kafka.Producer, error) {
	if c == nil {
		return nil, ErrNilConnections
	}

	if c.cfg.Kafka == nil {
		return nil, notConfigured(BackendKafka)
	}

	return c.producer.get(ctx, func(context.Context) (*kafka.Producer, error) {
		return c.build.producer(c.baseCtx, *c.cfg.Kafka, c.logger)
	})
}

// Consumer returns the Kafka consumer, building and subscribing it on first use.
func (c *Connections) Consumer(ctx context.Context) (*kafka.Consumer, error) {
	if c == nil {
		return nil, ErrNilConnections
	}

	if c.cfg.Kafka == nil {
		return nil, notConfigured(BackendKafka)
	}

	return c.consumer.get(ctx, func(context.Context) (*kafka.Consumer, error) {
		return c.build.consumer(c.baseCtx, *c.cfg.Kafka, c.logger)
	})
}

// Cache returns the Redis client, connecting on first use.
func (c *Connections) Cache(ctx context.Context) (*redis.Client, error) {
	if c == nil {
		return nil, ErrNilConnections
	}

	if c.cfg.Redis == nil {
		return nil, notConfigured(BackendRedis)
	}

	return c.cache.get(ctx, func(ctx context.Context) (*redis.Client, error) {
		return c.build.cache(ctx, *c.cfg.Redis, c.logger)
	})
}

// Session returns the Cassandra client, connecting on first use.
func (c *Connections) Session(ctx context.Context) (*cassandra.Client, error) {
	if c == nil {
		return nil, ErrNilConnections
	}

	if c.cfg.Cassandra == nil {
		return nil, notConfigured(BackendCassandra)
	}

	return c.session.get(ctx, func(ctx context.Context) (*cassandra.Client, error) {
		return c.build.session(ctx, *c.cfg.Cassandra, c.logger, c.cassandraOpts...)
	})
}

// Ping probes every handle built so far, concurrently. The result has one
// entry per built backend; a nil value means healthy. The producer and
// consumer share the kafka entry; either failing marks it failed.
func (c *Connections) Ping(ctx context.Context) map[Backend]error {
	if c == nil {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make(map[Backend]error)
	)

	record := func(b Backend, err error) {
		mu.Lock()
		defer mu.Unlock()

		results[b] = errors.Join(results[b], err)
	}

	g, gctx := errgroup.WithContext(ctx)

	probe := func(b Backend, ping func(context.Context) error) {
		record(b, nil)

		g.Go(func() error {
			record(b, ping(gctx))

			// Failures are reported per backend, not through the group.
			return nil
		})
	}

	if p, ok := c.producer.peek(); ok {
		probe(BackendKafka, p.Ping)
	}

	if k, ok := c.consumer.peek(); ok {
		probe(BackendKafka, k.Ping)
	}

	if r, ok := c.cache.peek(); ok {
		probe(BackendRedis, r.Ping)
	}

	if s, ok := c.session.peek(); ok {
		probe(BackendCassandra, s.Ping)
	}

	_ = g.Wait()

	return results
}

// Close closes every handle that was built and stops background work.
// Accessors return ErrClosed afterwards. Calling Close again returns the
// first result.
func (c *Connections) Close(ctx context.Context) error {
	if c == nil {
		return ErrNilConnections
	}

	c.closeOnce.Do(func() {
		var errs []error

		if k, ok := c.consumer.release(); ok {
			errs = append(errs, wrapClose(BackendKafka, k.Close()))
		}

		if p, ok := c.producer.release(); ok {
			errs = append(errs, wrapClose(BackendKafka, p.Close()))
		}

		if r, ok := c.cache.release(); ok {
			errs = append(errs, wrapClose(BackendRedis, r.Close()))
		}

		if s, ok := c.session.release(); ok {
			errs = append(errs, wrapClose(BackendCassandra, s.Close()))
		}

		c.cancel()

		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			c.logger.Log(ctx, log.LevelWarn, "connections closed with errors", log.Err(c.closeErr))
		} else {
			c.logger.Log(ctx, log.LevelInfo, "connections closed")
		}
	})

	return c.closeErr
}

func notConfigured(b Backend) error {
	return fmt.Errorf("%s: %w", b, ErrNotConfigured)
}

func wrapClose(b Backend, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("close %s: %w", b, err)
}
