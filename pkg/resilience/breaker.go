// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jllopis/techpulse/pkg/errors"
)

// Default circuit breaker settings.
const (
	defaultBreakerFailures uint32        = 5
	defaultBreakerTimeout  time.Duration = 30 * time.Second
	defaultBreakerInterval time.Duration = 60 * time.Second
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// Interval clears the failure counts periodically while closed.
	Interval time.Duration
	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
}

// Breaker guards calls returning T with a gobreaker circuit breaker.
type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

// NewBreaker creates a breaker; zero-valued settings take defaults.
func NewBreaker[T any](name string, cfg BreakerConfig) *Breaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	return &Breaker[T]{
		name: name,
		cb: gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1, // one probe in half-open state
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: cfg.OnStateChange,
			IsSuccessful: func(err error) bool {
				return !isFailure(err)
			},
		}),
	}
}

// Execute runs fn unless the circuit is open. Rejections are CIRCUIT_OPEN errors.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return v, errors.New(errors.CodeCircuitOpen, "circuit breaker open", err).
			WithContext("breaker", b.name).
			WithRecoverable(false)
	}
	return v, err
}

// Name returns the breaker name.
func (b *Breaker[T]) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker[T]) State() gobreaker.State { return b.cb.State() }

// Counts returns the current breaker counters.
func (b *Breaker[T]) Counts() gobreaker.Counts { return b.cb.Counts() }

// StateValue maps a breaker state to the metric encoding
// (0=open, 1=half-open, 2=closed).
func StateValue(s gobreaker.State) int64 {
	switch s {
	case gobreaker.StateOpen:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
