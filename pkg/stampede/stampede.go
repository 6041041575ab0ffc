// Package stampede implements a distributed single-flight coordinator: a
// key-store lock with TTL, double-check, jittered exponential backoff and
// bounded retry, guarding against thundering-herd source-of-truth queries.
package stampede

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/resilience"
)

// ErrTimeout is returned when on_timeout is configured fail-closed and the
// retry budget is exhausted without observing a populated value.
var ErrTimeout = errors.New("stampede: lock acquisition and retry budget exhausted")

// Producer computes and durably caches the value for subject_key when
// called as the single winner of the flight. It is responsible for the
// actual cache populate; Guard only coordinates who gets to call it.
type Producer func(ctx context.Context) ([]byte, error)

// Options tunes a single Guard.Run call; a zero Options uses the
// configured defaults.
type Options struct {
	LockTTL     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
	// OnTimeout overrides the configured fail-open/fail-closed policy for
	// this call only. Empty means "use the configured default".
	OnTimeout string
}

// Guard is the single-flight coordinator, built on a KVStore lock.
type Guard struct {
	kv      kvstore.Store
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a Guard. A nil cfg uses config.Default().
func New(kv kvstore.Store, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *Guard {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Guard{kv: kv, cfg: cfg, logger: logger, metrics: metrics}
}

func (g *Guard) resolve(opts Options) (lockTTL time.Duration, maxAttempts int, base, cap time.Duration, onTimeout string) {
	lockTTL = opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = g.cfg.Stampede.LockTTL
	}
	maxAttempts = opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = g.cfg.Stampede.MaxAttempts
	}
	base = opts.BaseDelay
	if base <= 0 {
		base = g.cfg.Stampede.BaseDelay
	}
	cap = opts.CapDelay
	if cap <= 0 {
		cap = g.cfg.Stampede.CapDelay
	}
	onTimeout = opts.OnTimeout
	if onTimeout == "" {
		onTimeout = g.cfg.Stampede.OnTimeout
	}
	return
}

// Run executes producer under single-flight protection for subjectKey: at
// most one caller across the fleet invokes producer while the cache is
// unpopulated; everyone else observes the populated value after backoff, or
// falls through per the on_timeout policy if the lock holder never
// populates it in time.
func (g *Guard) Run(ctx context.Context, subjectKey string, producer Producer, opts Options) ([]byte, error) {
	lockTTL, maxAttempts, base, cap, onTimeout := g.resolve(opts)
	key := g.cfg.WithNamespace(subjectKey)
	lockKey := "lock:" + key
	nonce := []byte(uuid.NewString())

	acquired, err := g.kv.SetIfAbsent(ctx, lockKey, nonce, lockTTL)
	if err != nil {
		// Lock-service failure is not fatal: degrade to direct producer
		// invocation rather than block every caller on a dead lock store.
		g.logger.Warn("stampede: lock service unavailable, invoking producer directly", map[string]interface{}{"key": key, "error": err.Error()})
		return producer(ctx)
	}

	if acquired {
		return g.runAsWinner(ctx, key, lockKey, nonce, producer)
	}

	return g.waitForWinner(ctx, key, maxAttempts, base, cap, onTimeout, producer)
}

func (g *Guard) runAsWinner(ctx context.Context, key, lockKey string, nonce []byte, producer Producer) ([]byte, error) {
	defer func() {
		if _, err := g.kv.CompareAndDelete(context.Background(), lockKey, nonce); err != nil {
			g.logger.Warn("stampede: failed to release lock", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}()

	// Double-check: another process may have populated the cache between
	// our caller's initial miss and our acquiring the lock.
	if existing, err := g.kv.Get(ctx, key); err == nil {
		g.metrics.IncrementCounter("stampede.double_check_hit", nil)
		return existing, nil
	}

	value, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	g.metrics.IncrementCounter("stampede.produced", nil)
	return value, nil
}

func (g *Guard) waitForWinner(ctx context.Context, key string, maxAttempts int, base, cap time.Duration, onTimeout string, producer Producer) ([]byte, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		delay := jitteredDelay(attempt, base, cap)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}

		value, err := g.kv.Get(ctx, key)
		if err == nil {
			g.metrics.IncrementCounter("stampede.backoff_hit", nil)
			return value, nil
		}
		if !errors.Is(err, kvstore.ErrNotFound) {
			g.logger.Warn("stampede: cache probe failed during backoff", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}

	g.metrics.IncrementCounter("stampede.exhausted", nil)
	if onTimeout == "fail-closed" {
		return nil, ErrTimeout
	}
	// fail-open: proceed without the lock.
	return producer(ctx)
}

// jitteredDelay computes min(cap, base*2^attempt) + uniform(0, base), capped
// exponential backoff with full jitter on the additive term. The
// cap/doubling arithmetic is shared with pkg/resilience.JitteredDelay; only
// the jitter source differs per call site, so it is passed in rather than
// hardcoded there.
func jitteredDelay(attempt int, base, cap time.Duration) time.Duration {
	return resilience.JitteredDelay(attempt, base, cap, func() time.Duration {
		return time.Duration(rand.Int63n(int64(base) + 1))
	})
}

// sleep blocks for d or until ctx is cancelled, whichever comes first
// (Design Note "Cooperative cancellation across blocking I/O").
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
