package stampede

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
)

func newStore(t *testing.T) *kvstore.MemoryStore {
	t.Helper()
	s, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stampede.LockTTL = 2 * time.Second
	cfg.Stampede.MaxAttempts = 10
	cfg.Stampede.BaseDelay = 5 * time.Millisecond
	cfg.Stampede.CapDelay = 50 * time.Millisecond
	return cfg
}

// TestRun_SingleFlight dispatches many concurrent goroutines at the same
// subject key and asserts the producer is invoked exactly once.
func TestRun_SingleFlight(t *testing.T) {
	kv := newStore(t)
	g := New(kv, testConfig(), nil, nil)
	ctx := context.Background()

	var calls int32
	producer := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		value := []byte("produced")
		require.NoError(t, kv.Set(ctx, g.cfg.WithNamespace("flights:jfk"), value, time.Minute))
		return value, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Run(ctx, "flights:jfk", producer, Options{})
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "producer must run exactly once across the flight")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "produced", string(results[i]))
	}
}

func TestRun_FailOpenOnExhaustion(t *testing.T) {
	kv := newStore(t)
	cfg := testConfig()
	cfg.Stampede.MaxAttempts = 2
	cfg.Stampede.OnTimeout = "fail-open"
	g := New(kv, cfg, nil, nil)
	ctx := context.Background()

	// Pre-acquire the lock so Run becomes a waiter that never observes a
	// populated key, forcing exhaustion.
	held, err := kv.SetIfAbsent(ctx, g.cfg.WithNamespace("lock:flights:lax"), []byte("holder"), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	var calls int32
	value, err := g.Run(ctx, "flights:lax", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("fallback"), nil
	}, Options{})

	require.NoError(t, err)
	require.Equal(t, "fallback", string(value))
	require.Equal(t, int32(1), calls)
}

func TestRun_FailClosedOnExhaustion(t *testing.T) {
	kv := newStore(t)
	cfg := testConfig()
	cfg.Stampede.MaxAttempts = 2
	cfg.Stampede.OnTimeout = "fail-closed"
	g := New(kv, cfg, nil, nil)
	ctx := context.Background()

	held, err := kv.SetIfAbsent(ctx, g.cfg.WithNamespace("lock:flights:ord"), []byte("holder"), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = g.Run(ctx, "flights:ord", func(ctx context.Context) ([]byte, error) {
		t.Fatal("producer must not be invoked under fail-closed exhaustion")
		return nil, nil
	}, Options{})

	require.ErrorIs(t, err, ErrTimeout)
}

func TestJitteredDelay_BoundedByCap(t *testing.T) {
	base := 10 * time.Millisecond
	cap := 40 * time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		d := jitteredDelay(attempt, base, cap)
		require.LessOrEqual(t, d, cap+base)
		require.GreaterOrEqual(t, d, time.Duration(0))
	}
}
