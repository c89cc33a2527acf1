package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	constant "github.com/Evantastic/distribuidos-12020-common/common/constants"
	"github.com/Evantastic/distribuidos-12020-common/common/log"
	libOpentelemetry "github.com/Evantastic/distribuidos-12020-common/common/opentelemetry"
	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxLockTries = 1000

// Lock errors. Option errors are returned before any round trip to redis.
var (
	ErrNilLockManager         = errors.New("redis lock: nil manager")
	ErrNilLockHandle          = errors.New("redis lock: nil handle")
	ErrLockNotHeld            = errors.New("redis lock: not held or expired")
	ErrNilLockFn              = errors.New("redis lock: nil function")
	ErrEmptyLockKey           = errors.New("redis lock: empty key")
	ErrLockExpiryInvalid      = errors.New("redis lock: expiry must be positive")
	ErrLockTriesInvalid       = errors.New("redis lock: tries must be in [1, 1000]")
	ErrLockRetryDelayNegative = errors.New("redis lock: negative retry delay")
	ErrLockDriftFactorInvalid = errors.New("redis lock: drift factor must be in [0, 1)")
)

// LockHandle is an acquired lock obtained from TryLock.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// Locker runs work under a distributed lock. Services depend on Locker so
// tests can substitute an in-process implementation.
type Locker interface {
	// WithLock runs fn while holding lockKey with DefaultLockOptions.
	WithLock(ctx context.Context, lockKey string, fn func(context.Context) error) error
	// WithLockOptions runs fn while holding lockKey with opts.
	WithLockOptions(ctx context.Context, lockKey string, opts LockOptions, fn func(context.Context) error) error
	// TryLock makes a single acquisition attempt. A busy lock is reported
	// as (nil, false, nil).
	TryLock(ctx context.Context, lockKey string) (LockHandle, bool, error)
}

var _ Locker = (*LockManager)(nil)

// LockOptions configures lock acquisition.
type LockOptions struct {
	Expiry      time.Duration // lock auto-expires after this
	Tries       int           // acquisition attempts, at most 1000
	RetryDelay  time.Duration
	DriftFactor float64 // clock drift allowance, in [0, 1)
}

// DefaultLockOptions returns options suited to operations completing within
// a few seconds.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       3,
		RetryDelay:  500 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// LockManager implements Locker with the RedLock algorithm over a Client.
type LockManager struct {
	redsync *redsync.Redsync
	logger  log.Logger
}

// clientPool resolves the current go-redis client on every Get so the lock
// manager survives reconnections.
type clientPool struct {
	conn *Client
}

func (p *clientPool) Get(ctx context.Context) (redsyncredis.Conn, error) {
	rdb, err := p.conn.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis lock pool: %w", err)
	}

	return goredis.NewPool(rdb).Get(ctx)
}

type lockHandle struct {
	mutex  *redsync.Mutex
	logger log.Logger
}

func (h *lockHandle) Unlock(ctx context.Context) error {
	if h == nil || h.mutex == nil {
		return ErrNilLockHandle
	}

	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		h.logger.Log(ctx, log.LevelError, "failed to release lock", log.Err(err))

		return fmt.Errorf("redis lock: unlock: %w", err)
	}

	if !ok {
		return ErrLockNotHeld
	}

	return nil
}

// NewLockManager verifies conn is usable and returns a lock manager over it.
func NewLockManager(ctx context.Context, conn *Client) (*LockManager, error) {
	if conn == nil {
		return nil, ErrNilClient
	}

	if _, err := conn.GetClient(ctx); err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}

	return &LockManager{
		redsync: redsync.New(&clientPool{conn: conn}),
		logger:  conn.logger,
	}, nil
}

// WithLock runs fn while holding lockKey. The lock is released when fn
// returns, including on panic.
func (dl *LockManager) WithLock(ctx context.Context, lockKey string, fn func(context.Context) error) error {
	if dl == nil {
		return ErrNilLockManager
	}

	return dl.WithLockOptions(ctx, lockKey, DefaultLockOptions(), fn)
}

// WithLockOptions is WithLock with explicit acquisition options.
func (dl *LockManager) WithLockOptions(ctx context.Context, lockKey string, opts LockOptions, fn func(context.Context) error) error {
	if dl == nil {
		return ErrNilLockManager
	}

	if fn == nil {
		return ErrNilLockFn
	}

	if strings.TrimSpace(lockKey) == "" {
		return ErrEmptyLockKey
	}

	if err := validateLockOptions(opts); err != nil {
		return err
	}

	logger := log.OrNop(dl.logger)
	safeLockKey := safeLockKeyForLogs(lockKey)

	ctx, span := otel.Tracer("redis").Start(ctx, "redis.lock.with_lock")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	mutex := dl.redsync.NewMutex(
		lockKey,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
		redsync.WithDriftFactor(opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		logger.Log(ctx, log.LevelError, "failed to acquire lock", log.String("lock_key", safeLockKey), log.Err(err))
		libOpentelemetry.HandleSpanError(span, "Failed to acquire lock", err)

		return fmt.Errorf("redis lock: acquire %s: %w", safeLockKey, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			logger.Log(ctx, log.LevelError, "failed to release lock",
				log.String("lock_key", safeLockKey), log.Bool("unlock_ok", ok), log.Err(err))
		}
	}()

	if err := fn(ctx); err != nil {
		libOpentelemetry.HandleSpanError(span, "Locked function failed", err)

		return fmt.Errorf("redis lock: %w", err)
	}

	return nil
}

// TryLock makes one acquisition attempt with the default expiry. Contention
// is not an error: it returns (nil, false, nil).
func (dl *LockManager) TryLock(ctx context.Context, lockKey string) (LockHandle, bool, error) {
	if dl == nil {
		return nil, false, ErrNilLockManager
	}

	if strings.TrimSpace(lockKey) == "" {
		return nil, false, ErrEmptyLockKey
	}

	logger := log.OrNop(dl.logger)
	safeLockKey := safeLockKeyForLogs(lockKey)

	ctx, span := otel.Tracer("redis").Start(ctx, "redis.lock.try_lock")
	defer span.End()

	mutex := dl.redsync.NewMutex(
		lockKey,
		redsync.WithExpiry(DefaultLockOptions().Expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isLockContention(err) {
			logger.Log(ctx, log.LevelDebug, "lock already held", log.String("lock_key", safeLockKey))

			return nil, false, nil
		}

		libOpentelemetry.HandleSpanError(span, "Failed to try lock", err)

		return nil, false, fmt.Errorf("redis lock: try %s: %w", safeLockKey, err)
	}

	return &lockHandle{mutex: mutex, logger: logger}, true, nil
}

// isLockContention reports whether err means another owner holds the lock.
// redsync reports contention either as ErrFailed or as an ErrTaken value.
func isLockContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

func validateLockOptions(opts LockOptions) error {
	if opts.Expiry <= 0 {
		return ErrLockExpiryInvalid
	}

	if opts.Tries < 1 || opts.Tries > maxLockTries {
		return ErrLockTriesInvalid
	}

	if opts.RetryDelay < 0 {
		return ErrLockRetryDelayNegative
	}

	if opts.DriftFactor < 0 || opts.DriftFactor >= 1 {
		return ErrLockDriftFactorInvalid
	}

	return nil
}

func safeLockKeyForLogs(lockKey string) string {
	const limit = 128

	quoted := strconv.QuoteToASCII(lockKey)
	if len(quoted) > limit {
		return quoted[:limit] + "...(truncated)"
	}

	return quoted
}
