package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, threshold int, resetAfter time.Duration) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             t.Name(),
		FailureThreshold: threshold,
		ResetTimeout:     resetAfter,
		HalfOpenMaxCalls: 1,
	}, zerolog.Nop())
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(t, 5, 30*time.Second)
	assert.Equal(t, "closed", cb.GetState())
	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(t, 3, 30*time.Second)
	upstreamDown := errors.New("upstream unreachable")

	for i := 0; i < 3; i++ {
		_ = cb.Call(func() error { return upstreamDown })
	}

	assert.Equal(t, "open", cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := newTestBreaker(t, 2, 40*time.Millisecond)
	upstreamDown := errors.New("upstream unreachable")

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	require.Equal(t, "open", cb.GetState())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "half-open", cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(t, 2, 40*time.Millisecond)
	upstreamDown := errors.New("upstream unreachable")

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, "closed", cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(t, 2, 40*time.Millisecond)
	upstreamDown := errors.New("upstream unreachable")

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	time.Sleep(50 * time.Millisecond)

	_ = cb.Call(func() error { return upstreamDown })
	assert.Equal(t, "open", cb.GetState())
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := newTestBreaker(t, 3, 30*time.Second)
	upstreamDown := errors.New("upstream unreachable")

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	assert.Equal(t, 2, cb.ConsecutiveFailures())

	_ = cb.Call(func() error { return nil })
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := newTestBreaker(t, 2, 30*time.Second)
	upstreamDown := errors.New("upstream unreachable")

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	require.Equal(t, "open", cb.GetState())

	cb.Reset()
	assert.Equal(t, "closed", cb.GetState())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_OnStateChangeFires(t *testing.T) {
	cb := newTestBreaker(t, 2, 40*time.Millisecond)
	upstreamDown := errors.New("upstream unreachable")

	var seen []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		seen = append(seen, from.String()+"->"+to.String())
	})

	_ = cb.Call(func() error { return upstreamDown })
	_ = cb.Call(func() error { return upstreamDown })
	time.Sleep(100 * time.Millisecond) // callback fires asynchronously

	assert.Contains(t, seen, "closed->open")
}

func TestCircuitBreakerRegistry_RegisterAndGet(t *testing.T) {
	reg := NewCircuitBreakerRegistry(zerolog.Nop())

	cb := reg.Register(CircuitBreakerConfig{Name: "wikipedia-api", FailureThreshold: 3, ResetTimeout: 10 * time.Second})
	require.NotNil(t, cb)

	got, err := reg.Get("wikipedia-api")
	require.NoError(t, err)
	assert.Same(t, cb, got)

	_, err = reg.Get("no-such-breaker")
	assert.Error(t, err)
}

func TestCircuitBreakerRegistry_Snapshot(t *testing.T) {
	reg := NewCircuitBreakerRegistry(zerolog.Nop())
	reg.Register(CircuitBreakerConfig{Name: "wikipedia-api"})

	snap := reg.Snapshot()
	assert.Equal(t, "closed", snap["wikipedia-api"])
}

func TestCircuitBreakerRegistry_ResetAll(t *testing.T) {
	reg := NewCircuitBreakerRegistry(zerolog.Nop())
	cb := reg.Register(CircuitBreakerConfig{Name: "wikipedia-api", FailureThreshold: 1, ResetTimeout: 30 * time.Second})

	_ = cb.Call(func() error { return errors.New("boom") })
	require.Equal(t, "open", cb.GetState())

	reg.ResetAll()
	assert.Equal(t, "closed", cb.GetState())
}

func TestRetryWithBackoff_FirstTrySucceeds(t *testing.T) {
	var calls int32

	err := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32

	err := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Millisecond,
	}, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("wikipedia api: 503")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryWithBackoff_ExhaustsAllAttempts(t *testing.T) {
	permanent := errors.New("wikipedia api: 503 forever")

	err := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
	}, func(ctx context.Context) error {
		return permanent
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestRetryWithBackoff_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
	}, func(ctx context.Context) error {
		return errors.New("should never run past attempt one")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestRetryWithBackoff_NonRetryableErrorStopsImmediately(t *testing.T) {
	var calls int32

	err := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Millisecond,
	}, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return NewNonRetryableError(errors.New("article does not exist"))
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRetryable_Classification(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("plain error defaults to retryable")))
	assert.True(t, IsRetryable(NewRetryableError(errors.New("network blip"))))
	assert.False(t, IsRetryable(NewNonRetryableError(errors.New("malformed request"))))
}

func TestDefaultTimeoutConfig_PopulatesEverySubsystem(t *testing.T) {
	tc := DefaultTimeoutConfig()

	assert.Greater(t, tc.HTTP.RequestTimeout, time.Duration(0))
	assert.Greater(t, tc.Redis.DialTimeout, time.Duration(0))
	assert.Greater(t, tc.ES.BulkTimeout, time.Duration(0))
	assert.Greater(t, tc.Kafka.SessionTimeout, time.Duration(0))
	assert.Greater(t, tc.WS.PingInterval, time.Duration(0))
}
