package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per channel type, applied
// by a Delivery Worker immediately before handing a Notification to its
// provider adapter — an extra shedding layer in front of the Circuit Breaker
// rather than a replacement for it (spec.md §4.2, §5).
// Each limiter enforces a steady-state rate (e.g. 100 tokens/sec).
// Burst is set equal to the rate so no extra burst capacity is allowed
// beyond the configured per-second maximum.
type ChannelLimiters struct {
	mu         sync.Mutex
	ratePerSec int
	limiters   map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
func New(ratePerSec int) *ChannelLimiters {
	return &ChannelLimiters{
		ratePerSec: ratePerSec,
		limiters: map[domain.Channel]*rate.Limiter{
			domain.ChannelSMS:         rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
			domain.ChannelEmail:       rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
			domain.ChannelPushIOS:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
			domain.ChannelPushAndroid: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
			domain.ChannelWebhook:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		},
	}
}

// Wait blocks until the channel's limiter grants a token.
// Called by each worker immediately before sending to the provider.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	return cl.limiterFor(ch).Wait(ctx)
}

func (cl *ChannelLimiters) limiterFor(ch domain.Channel) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if l, ok := cl.limiters[ch]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(cl.ratePerSec), cl.ratePerSec)
	cl.limiters[ch] = l
	return l
}
