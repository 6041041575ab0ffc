package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
)

func testBreaker(cfg Config) *CircuitBreaker {
	return New("test", cfg, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := testBreaker(DefaultConfig())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: time.Minute, SuccessThreshold: 1, MaxRequestsHalfOpen: 1}
	cb := testBreaker(cfg)
	failure := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return failure })
		require.ErrorIs(t, err, failure)
	}
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn must not run while the breaker is open")
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := Config{FailureThreshold: 2, ResetTimeout: 20 * time.Millisecond, SuccessThreshold: 1, MaxRequestsHalfOpen: 1}
	cb := testBreaker(cfg)
	failure := errors.New("boom")

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return failure })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_RespectsCancelledContext(t *testing.T) {
	cb := testBreaker(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run with an already-cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_PropagatesFnError(t *testing.T) {
	cb := testBreaker(DefaultConfig())
	failure := errors.New("downstream unavailable")

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return failure })
	require.ErrorIs(t, err, failure)
	require.Equal(t, StateClosed, cb.State())
}
