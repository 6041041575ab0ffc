package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures Retry's exponential backoff envelope.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
	// RetryIf decides whether an error is retryable; nil means always retry.
	RetryIf func(error) bool
}

// Retry runs operation with exponential backoff until it succeeds, the
// context is cancelled, RetryIf rejects an error, or the retry budget is
// exhausted.
func Retry(ctx context.Context, cfg RetryConfig, operation func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		b.Multiplier = cfg.Multiplier
	}
	b.MaxElapsedTime = cfg.MaxElapsedTime

	var policy backoff.BackOff = b
	if cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := operation(ctx)
		if err != nil && cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// JitteredDelay computes the Guard backoff delay for retry attempt i
// (0-indexed): min(cap, base*2^i) plus a uniform jitter in [0, base). It
// intentionally does not use backoff.ExponentialBackOff (which jitters
// multiplicatively) so callers get an additive-jitter envelope that never
// collapses the delay to near-zero.
func JitteredDelay(attempt int, base, cap time.Duration, jitter func() time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	return d + jitter()
}
