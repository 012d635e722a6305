// Package provider implements the Provider Adapters (C4): one adapter per
// channel, each translating a Notification into a call against an external
// transport and normalizing the outcome into a domain.DispatchError so the
// Retry Router can make a uniform retryable/permanent decision regardless of
// which channel failed (spec.md §4.2, §7).
package provider

import (
	"context"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// SendResult is returned on a successful dispatch.
type SendResult struct {
	ProviderMessageID string
	SentAt            time.Time
}

// Provider abstracts delivery to one external channel. Every adapter must
// return a *domain.DispatchError on failure so callers can branch on
// Retryable() without needing to know the channel's own error types.
type Provider interface {
	// Name identifies this adapter for circuit breaker and metrics labeling.
	Name() string
	Send(ctx context.Context, n *domain.Notification) (*SendResult, error)
}

// Registry resolves the primary and, where configured, fallback Provider for
// a domain.Channel (spec.md §4.3). Every registered adapter's Name() is a
// distinct Circuit Breaker registry key following the "<channel>.primary" /
// "<channel>.fallback" convention, so a failing fallback trips its own
// breaker independently of the primary it backs up.
type Registry struct {
	primary  map[domain.Channel]Provider
	fallback map[domain.Channel]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		primary:  make(map[domain.Channel]Provider),
		fallback: make(map[domain.Channel]Provider),
	}
}

// Register sets the primary adapter for a channel.
func (r *Registry) Register(channel domain.Channel, p Provider) {
	r.primary[channel] = p
}

// RegisterFallback sets the optional fallback adapter for a channel. Not
// every channel needs one; spec.md §4.3 makes it optional per channel.
func (r *Registry) RegisterFallback(channel domain.Channel, p Provider) {
	r.fallback[channel] = p
}

// Resolve returns the primary adapter for a channel.
func (r *Registry) Resolve(channel domain.Channel) (Provider, bool) {
	p, ok := r.primary[channel]
	return p, ok
}

// ResolveFallback returns the fallback adapter for a channel, if one was
// registered.
func (r *Registry) ResolveFallback(channel domain.Channel) (Provider, bool) {
	p, ok := r.fallback[channel]
	return p, ok
}
