package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return errors.New("permanent")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := backoff.Retry(ctx, func() error {
		attempts++
		return errors.New("keep going")
	})

	require.Error(t, err)
	assert.Less(t, attempts, 10)
}

func TestJobRetryDelayGrowsExponentially(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute

	var previous time.Duration
	for attempt := 1; attempt <= 8; attempt++ {
		delay := JobRetryDelay(attempt, base, max, 0)
		expected := base * (1 << (attempt - 1))
		if expected > max {
			expected = max
		}
		assert.Equal(t, expected, delay, "attempt %d", attempt)
		assert.GreaterOrEqual(t, delay, previous)
		previous = delay
	}
}

func TestJobRetryDelayCapsAtMax(t *testing.T) {
	delay := JobRetryDelay(20, time.Second, 5*time.Minute, 0)
	assert.Equal(t, 5*time.Minute, delay)
}

func TestJobRetryDelayJitterBounds(t *testing.T) {
	base := time.Second
	max := 5 * time.Minute
	jitter := time.Second

	for i := 0; i < 50; i++ {
		delay := JobRetryDelay(3, base, max, jitter)
		assert.GreaterOrEqual(t, delay, 4*time.Second)
		assert.Less(t, delay, 5*time.Second+jitter)
	}
}
