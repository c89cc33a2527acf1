//go:build unit

package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{"zero base", 0, 3, 0},
		{"negative base", -time.Second, 3, 0},
		{"first attempt", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"third attempt", 100 * time.Millisecond, 3, 800 * time.Millisecond},
		{"negative attempt", time.Second, -4, time.Second},
		{"overflow saturates", time.Hour, 62, time.Duration(math.MaxInt64)},
		{"huge attempt is clamped", time.Nanosecond, 1000, time.Duration(int64(1) << 62)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitterBounds(t *testing.T) {
	assert.Zero(t, FullJitter(0))
	assert.Zero(t, FullJitter(-time.Second))

	for range 100 {
		d := FullJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestCapped(t *testing.T) {
	for range 50 {
		assert.LessOrEqual(t, Capped(time.Second, 20, 2*time.Second), 2*time.Second)
	}
}

func TestWaitContext(t *testing.T) {
	assert.NoError(t, WaitContext(context.Background(), 0))
	assert.NoError(t, WaitContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
