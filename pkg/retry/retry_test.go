package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("port in use")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	cause := errors.New("persistent error")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cause := errors.New("channel not enabled")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(cause)
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, NonRetryable(nil))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestRetry_BackoffTiming(t *testing.T) {
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error {
		return errors.New("error")
	})

	// 10ms + 20ms + 40ms
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestRetry_OnRetryHook(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error) {
		assert.EqualError(t, err, "bind failed")
		seen = append(seen, attempt)
	}

	_ = Do(context.Background(), cfg, func() error {
		return errors.New("bind failed")
	})

	// no hook after the final attempt
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetry_InvalidConfig(t *testing.T) {
	noop := func() error { return nil }

	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{MaxDelay: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{Multiplier: -1}, noop))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, noop))
}

func TestRetry_WithResult(t *testing.T) {
	attempts := 0
	result, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("not ready")
		}
		return 16214, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 16214, result)
	assert.Equal(t, 2, attempts)
}

func TestRetry_Presets(t *testing.T) {
	def := DefaultConfig()
	assert.Equal(t, 3, def.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, def.InitialDelay)
	assert.True(t, def.AddJitter)

	quick := Quick()
	assert.Equal(t, 10, quick.MaxAttempts)
	assert.Equal(t, time.Second, quick.MaxDelay)

	bind := Bind()
	assert.Equal(t, 8, bind.MaxAttempts)
	assert.LessOrEqual(t, bind.MaxDelay, 50*time.Millisecond)
	assert.False(t, bind.AddJitter)

	persistent := Persistent()
	assert.Equal(t, 30, persistent.MaxAttempts)
}

func TestRetry_ZeroAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithJitter(t *testing.T) {
	assert.Equal(t, 3*time.Nanosecond, withJitter(3*time.Nanosecond, true))
	assert.Equal(t, time.Second, withJitter(time.Second, false))

	d := withJitter(100*time.Millisecond, true)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 125*time.Millisecond)
}
