package connections

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Evantastic/distribuidos-12020-common/common/backoff"
	"golang.org/x/sync/singleflight"
)

const (
	// buildBackoffBase is the first delay enforced after a failed build.
	buildBackoffBase = 500 * time.Millisecond
	// buildBackoffCap is the maximum delay between build attempts.
	buildBackoffCap = 30 * time.Second
)

const flightKey = "build"

// lazy holds one handle built on first use. A failed build is not
// remembered, but the next attempt is rate limited. Concurrent callers share
// one build and each stops waiting when its own ctx is done.
type lazy[T any] struct {
	mu     sync.RWMutex
	value  T
	built  bool
	closed bool

	attempts    int
	lastAttempt time.Time

	group    singleflight.Group
	inflight sync.WaitGroup
}

func (l *lazy[T]) get(ctx context.Context, build func(context.Context) (T, error)) (T, error) {
	var zero T

	l.mu.RLock()

	if l.closed {
		l.mu.RUnlock()

		return zero, ErrClosed
	}

	if l.built {
		v := l.value
		l.mu.RUnlock()

		return v, nil
	}

	l.mu.RUnlock()

	ch := l.group.DoChan(flightKey, func() (any, error) {
		return l.buildOnce(ctx, build)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		return res.Val.(T), nil
	}
}

// buildOnce runs build unless a handle exists, l is closed or the previous
// failure is too recent. A handle finished after release is kept for release
// to hand back, and the caller gets ErrClosed.
func (l *lazy[T]) buildOnce(ctx context.Context, build func(context.Context) (T, error)) (any, error) {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return nil, ErrClosed
	}

	if l.built {
		v := l.value
		l.mu.Unlock()

		return v, nil
	}

	if l.attempts > 0 {
		delay := backoff.Capped(buildBackoffBase, l.attempts, buildBackoffCap)

		if elapsed := time.Since(l.lastAttempt); elapsed < delay {
			l.mu.Unlock()

			return nil, fmt.Errorf("%w (next attempt in %s)", ErrRateLimited, delay-elapsed)
		}
	}

	l.lastAttempt = time.Now()
	l.inflight.Add(1)
	l.mu.Unlock()

	defer l.inflight.Done()

	v, err := build(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		l.attempts++

		return nil, err
	}

	l.value = v
	l.built = true
	l.attempts = 0

	if l.closed {
		return nil, ErrClosed
	}

	return v, nil
}

// peek returns the handle if it was built and l is still open.
func (l *lazy[T]) peek() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		var zero T

		return zero, false
	}

	return l.value, l.built
}

// release marks l closed and hands back the handle, if any, for the caller
// to close. A build in progress is waited for so its handle is not leaked.
// Later get calls return ErrClosed.
func (l *lazy[T]) release() (T, bool) {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.inflight.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T

	v, built := l.value, l.built
	l.value, l.built = zero, false

	return v, built
}
