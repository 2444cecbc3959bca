package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// BreakerRegistry manages one circuit breaker per worker command. A breaker
// trips only on spawn failures (missing binary, unusable pipes): those
// affect every story equally, so once the command is known-bad the
// remaining stories fail fast instead of each burning a full retry cycle.
// Timeouts and non-zero exits are story-specific and never trip it.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for the given command, creating it on first use.
func (r *BreakerRegistry) Get(command string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[command]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        command,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: worker command %q breaker: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			var werr *Error
			if errors.As(err, &werr) {
				return werr.Kind != KindSpawn
			}
			return true
		},
	})
	r.breakers[command] = cb
	return cb
}

// retryAttempts runs op with a fixed delay between attempts, up to
// maxRetries retries after the first attempt. Context cancellation and
// open-breaker errors stop the cycle immediately.
func retryAttempts(ctx context.Context, maxRetries uint64, delay time.Duration, op func() error) error {
	wrapped := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), maxRetries),
		ctx,
	)
	return backoff.Retry(wrapped, policy)
}
