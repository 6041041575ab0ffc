// Package resilience provides failure-handling primitives: a circuit
// breaker (used by the Bedrock embedding and LLM clients) and
// context-aware retry with jittered exponential backoff (used by the
// SoTStore's initial connection).
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rlunar/aviation-cache-core/pkg/observability"
)

// State mirrors gobreaker's circuit states.
type State = gobreaker.State

// Circuit breaker states.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// Errors a CircuitBreaker can return, translated from gobreaker's sentinels
// so callers never need to import gobreaker directly.
var (
	ErrOpen              = errors.New("resilience: circuit breaker is open")
	ErrHalfOpenExhausted = errors.New("resilience: max requests exceeded in half-open state")
)

// Config configures a CircuitBreaker.
type Config struct {
	FailureThreshold    int           // consecutive failures before tripping
	ResetTimeout        time.Duration // time spent open before probing
	SuccessThreshold    int           // used in place of MaxRequestsHalfOpen when that is <= 0
	MaxRequestsHalfOpen int           // probes allowed while half-open; that many consecutive successes close the breaker
}

// DefaultConfig returns sane defaults for protecting a single backend call.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		SuccessThreshold:    2,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker guards a backend dependency from cascading failure. It
// wraps sony/gobreaker behind a context-aware Execute, since gobreaker's
// own Execute takes no context.
type CircuitBreaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a named CircuitBreaker. A nil logger/metrics is replaced with
// a no-op implementation.
func New(name string, config Config, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	if config.FailureThreshold == 0 {
		config = DefaultConfig()
	}

	breaker := &CircuitBreaker{name: name, logger: logger, metrics: metrics}

	maxRequests := config.MaxRequestsHalfOpen
	if maxRequests <= 0 {
		maxRequests = config.SuccessThreshold
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breaker.metrics.RecordGauge("resilience.circuit_breaker.state", float64(to), map[string]string{"name": name})
			breaker.logger.Info("circuit breaker transitioned", map[string]interface{}{"name": name, "from": from.String(), "to": to.String()})
		},
	}
	breaker.cb = gobreaker.NewCircuitBreaker(settings)
	return breaker
}

// Execute runs fn with circuit breaker protection. It never imposes its own
// timeout; callers pass a ctx that already carries one. A ctx that is
// already done is rejected before gobreaker's admission check; after that,
// cancellation is up to fn, which receives ctx (gobreaker.Execute has no
// cancellation hook of its own).
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := cb.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		cb.metrics.IncrementCounter("resilience.circuit_breaker.rejected", map[string]string{"name": cb.name})
		return ErrOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.metrics.IncrementCounter("resilience.circuit_breaker.rejected", map[string]string{"name": cb.name})
		return ErrHalfOpenExhausted
	default:
		cb.logger.Warn("circuit breaker recorded failure", map[string]interface{}{"name": cb.name, "error": err.Error()})
		return err
	}
}

// State returns the breaker's current state, mostly for tests and health
// endpoints.
func (cb *CircuitBreaker) State() State { return cb.cb.State() }
