package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentsched/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig tunes the circuit breaker around an executor.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed runs before the
	// circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing
	// failure counts. Zero means failures never reset until the circuit
	// opens.
	Interval time.Duration
}

// Breaker wraps an Executor with circuit-breaker protection. When runs fail
// repeatedly the circuit opens and subsequent fires fail fast with
// ErrExecutorBusy instead of spawning more doomed work.
type Breaker struct {
	inner   domain.Executor
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewBreaker wraps inner with a circuit breaker. Zero-valued config fields
// use the defaults.
func NewBreaker(inner domain.Executor, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "executor",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Breaker{inner: inner, breaker: cb, logger: logger}
}

// Execute implements domain.Executor. An open circuit surfaces as
// ErrExecutorBusy; the run is recorded failed without touching the inner
// executor.
func (b *Breaker) Execute(ctx context.Context, task *domain.Task) (string, error) {
	result, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Execute(ctx, task)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", domain.NewDomainError("executor.Breaker", domain.ErrExecutorBusy, err.Error())
		}
		return result, err
	}
	return result, nil
}

// State returns the current breaker state for monitoring.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

var _ domain.Executor = (*Breaker)(nil)
