package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential returns base * 2^attempt, saturating at math.MaxInt64.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}

// FullJitter returns a random duration in [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(mrand.Int64N(int64(delay))) // #nosec G404 -- jitter only
	}

	return time.Duration(n.Int64())
}

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt).
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	return FullJitter(Exponential(base, attempt))
}

// Capped returns ExponentialWithJitter(base, attempt) bounded by ceiling.
func Capped(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	delay := ExponentialWithJitter(base, attempt)
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}

	return delay
}

// WaitContext sleeps for d or until ctx is done, whichever comes first.
// Non-positive durations return immediately.
func WaitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
