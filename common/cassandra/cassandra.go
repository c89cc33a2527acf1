package cassandra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	"github.com/gocql/gocql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilClient is returned when a *Client receiver is nil.
	ErrNilClient = errors.New("cassandra client is nil")
	// ErrSessionClosed is returned when the session was closed.
	ErrSessionClosed = errors.New("cassandra session is closed")
	// ErrEmptyStatement is returned when Prepare is given a blank statement.
	ErrEmptyStatement = errors.New("cassandra statement is empty")
	// ErrNilStatement is returned when a *Statement receiver is nil.
	ErrNilStatement = errors.New("cassandra statement is nil")
	// ErrNilDependency is returned when an Option clears a required dependency.
	ErrNilDependency = errors.New("cassandra dependency is nil")
)

// Session is the subset of *gocql.Session this package relies on.
type Session interface {
	Query(stmt string, values ...any) *gocql.Query
	Close()
	Closed() bool
}

var _ Session = (*gocql.Session)(nil)

// Option customizes internal client dependencies (primarily for tests).
type Option func(*clientDeps)

type clientDeps struct {
	createSession func(*gocql.ClusterConfig) (Session, error)
}

// WithSessionFactory replaces the driver call that opens the session.
func WithSessionFactory(create func(*gocql.ClusterConfig) (Session, error)) Option {
	return func(d *clientDeps) {
		d.createSession = create
	}
}

func defaultDeps() clientDeps {
	return clientDeps{
		createSession: func(cluster *gocql.ClusterConfig) (Session, error) {
			return cluster.CreateSession()
		},
	}
}

// Client owns a session bound to the configured keyspace.
type Client struct {
	mu      sync.RWMutex
	cfg     Config
	logger  log.Logger
	session Session
	deps    clientDeps
}

// New validates cfg and opens a session. The driver's reconnection policy
// receives cfg.ReconnectAttempts; New itself makes one connection attempt.
func New(ctx context.Context, cfg Config, logger log.Logger, opts ...Option) (*Client, error) {
	cfg = normalizeConfig(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	deps := defaultDeps()

	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}

	if deps.createSession == nil {
		return nil, ErrNilDependency
	}

	c := &Client{
		cfg:    cfg,
		logger: log.OrNop(logger).With(log.String("component", "cassandra")),
		deps:   deps,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	ctx, span := otel.Tracer("cassandra").Start(ctx, "cassandra.connect")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemCassandra),
		attribute.String(constant.AttrDBName, c.cfg.Keyspace),
	)

	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Log(ctx, log.LevelInfo, "connecting to cassandra",
		log.Any("hosts", c.cfg.Hosts),
		log.Int("port", c.cfg.Port),
		log.String("keyspace", c.cfg.Keyspace),
	)

	session, err := c.deps.createSession(c.cfg.clusterConfig())
	if err != nil {
		_ = libOpentelemetry.RecordConnectionFailure(ctx, constant.DBSystemCassandra, "connect")

		libOpentelemetry.HandleSpanError(span, "Failed to connect to cassandra", err)
		c.logger.Log(ctx, log.LevelError, "cassandra connect failed", log.Err(err))

		return fmt.Errorf("cassandra connect: %w", err)
	}

	if session == nil {
		return fmt.Errorf("cassandra connect: %w", ErrNilDependency)
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.Log(ctx, log.LevelInfo, "connected to cassandra")

	return nil
}

// Session returns the open session.
func (c *Client) Session() (Session, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil || c.session.Closed() {
		return nil, ErrSessionClosed
	}

	return c.session, nil
}

// Keyspace returns the keyspace the session is bound to.
func (c *Client) Keyspace() string {
	if c == nil {
		return ""
	}

	return c.cfg.Keyspace
}

// Prepare registers cql for repeated execution. The driver prepares the
// statement on first use and caches it per host.
func (c *Client) Prepare(cql string) (*Statement, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	if strings.TrimSpace(cql) == "" {
		return nil, ErrEmptyStatement
	}

	return &Statement{client: c, cql: cql}, nil
}

// Ping runs a lightweight query against the system keyspace.
func (c *Client) Ping(ctx context.Context) error {
	stmt, err := c.Prepare("SELECT release_version FROM system.local")
	if err != nil {
		return err
	}

	return stmt.Exec(ctx)
}

// Close closes the session. It is safe to call more than once.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	_, span := otel.Tracer("cassandra").Start(context.Background(), "cassandra.close")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemCassandra))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	c.session.Close()
	c.session = nil

	c.logger.Log(context.Background(), log.LevelInfo, "cassandra session closed")

	return nil
}

// Statement is a registered CQL statement with positional bind markers.
type Statement struct {
	client *Client
	cql    string
}

// CQL returns the statement text.
func (s *Statement) CQL() string {
	if s == nil {
		return ""
	}

	return s.cql
}

// Query binds values and returns the driver query for callers that need
// Iter, Scan or per-query options.
func (s *Statement) Query(ctx context.Context, values ...any) (*gocql.Query, error) {
	if s == nil || s.client == nil {
		return nil, ErrNilStatement
	}

	session, err := s.client.Session()
	if err != nil {
		return nil, err
	}

	q := session.Query(s.cql, values...)
	if q == nil {
		return nil, fmt.Errorf("cassandra query: %w", ErrNilDependency)
	}

	return q.WithContext(ctx), nil
}

// Exec binds values and executes the statement, discarding any rows.
func (s *Statement) Exec(ctx context.Context, values ...any) error {
	ctx, span := otel.Tracer("cassandra").Start(ctx, "cassandra.exec")
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrDBSystem, constant.DBSystemCassandra),
		attribute.String(constant.AttrOperation, operationName(s.CQL())),
	)

	q, err := s.Query(ctx, values...)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "Failed to build cassandra query", err)

		return err
	}

	if err := q.Exec(); err != nil {
		libOpentelemetry.HandleSpanError(span, "Cassandra query failed", err)

		return fmt.Errorf("cassandra exec: %w", err)
	}

	return nil
}

// operationName returns the leading CQL keyword, e.g. SELECT.
func operationName(cql string) string {
	fields := strings.Fields(cql)
	if len(fields) == 0 {
		return ""
	}

	return constant.SanitizeMetricLabel(strings.ToUpper(fields[0]))
}
