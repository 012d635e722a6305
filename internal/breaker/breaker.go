// Package breaker implements the per-adapter Circuit Breaker (C5): once a
// provider adapter's consecutive failures reach the configured threshold,
// the breaker opens and further dispatches to that adapter fail fast instead
// of queueing up behind a dead dependency.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Registry holds one named breaker per provider adapter (e.g.
// "email.primary", "sms.primary", "webhook.fallback"). Breakers are created lazily on first use so new
// channels never need a registration step.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]

	failureThreshold uint32
	cooldown         time.Duration
}

// NewRegistry configures every breaker created by this registry with the
// same failure threshold and open-state cooldown (spec.md §6's
// breaker.failure_threshold / breaker.cooldown_ms).
func NewRegistry(failureThreshold uint32, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*gobreaker.CircuitBreaker[any]),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 2, // consecutive successes required in half-open before closing
		Interval:    0, // never reset counts while closed; only ReadyToTrip decides
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failureThreshold
		},
	}

	b := gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[name] = b
	return b
}

// State reports the current state of the named breaker without the side
// effect of creating one if it does not yet exist.
func (r *Registry) State(name string) (gobreaker.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.State(), true
}

// ErrOpen is returned (wrapped) when a dispatch is rejected because the
// breaker for that adapter is open.
var ErrOpen = gobreaker.ErrOpenState

// Execute runs fn through the named breaker. If the breaker is open, fn is
// never called and the error wraps ErrOpen — callers route this straight to
// a retry/backoff decision without waiting out a dispatch timeout.
func Execute(ctx context.Context, r *Registry, name string, fn func(ctx context.Context) error) error {
	b := r.get(name)
	_, err := b.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("breaker %q: %w", name, err)
	}
	return nil
}
