// Package retry implements the Retry Router (C6): given a dispatch outcome
// it decides whether a Notification gets republished to the retry topic with
// a computed backoff delay, routed straight to the DLQ, or marked terminally
// failed, per spec.md §4.5.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// Hooks carries metric callbacks injected by main, keeping this package
// metrics-agnostic.
type Hooks struct {
	OnRetried func(channel domain.Channel)
	OnDLQ     func(channel domain.Channel)
}

// Publisher is the narrow slice of *streamlog.Producer the router needs,
// accepted as an interface so tests can substitute an in-memory fake instead
// of a real Kafka connection.
type Publisher interface {
	Publish(ctx context.Context, msg domain.LogMessage, opts streamlog.PublishOptions) error
}

// Router holds the configuration and dependencies needed to route a failed
// dispatch attempt to its next destination.
type Router struct {
	repo       repository.NotificationRepository
	producer   Publisher
	baseDelay  time.Duration
	maxRetries int
	rng        *rand.Rand
	hooks      Hooks
}

func NewRouter(repo repository.NotificationRepository, producer Publisher, baseDelay time.Duration, maxRetries int, hooks Hooks) *Router {
	if hooks.OnRetried == nil {
		hooks.OnRetried = func(domain.Channel) {}
	}
	if hooks.OnDLQ == nil {
		hooks.OnDLQ = func(domain.Channel) {}
	}
	return &Router{
		repo:       repo,
		producer:   producer,
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		hooks:      hooks,
	}
}

// Outcome is what the caller learned from a dispatch attempt.
type Outcome struct {
	Notification *domain.Notification
	Err          *domain.DispatchError
}

// DLQ reason codes, per spec.md §4.5's last sentence: operator tooling
// matches on these literal codes, so they must not be freeform text. The
// originating error's detail still reaches the Store via MarkFailedTerminal,
// just not via this header.
const (
	ReasonPermanentError     = "permanent_error"
	ReasonMaxRetriesExceeded = "max_retries_exceeded"
	ReasonRetryEnqueueFailed = "retry_enqueue_failed"
)

// Route decides the next step for a failed dispatch and carries it out: a
// per-notification max_retries override (spec.md §9 Open Question 3) takes
// precedence over the router's default when set and nonzero.
func (r *Router) Route(ctx context.Context, o Outcome) error {
	n := o.Notification
	maxRetries := r.maxRetries
	if n.MaxRetries > 0 {
		maxRetries = n.MaxRetries
	}

	if !o.Err.Retryable() {
		return r.toDLQ(ctx, n, ReasonPermanentError, o.Err.Error())
	}

	nextRetryCount := n.RetryCount + 1
	if nextRetryCount > maxRetries {
		return r.terminalFail(ctx, n, o.Err.Error())
	}

	if err := r.repo.ScheduleRetry(ctx, n.ID, nextRetryCount, o.Err.Error()); err != nil {
		return fmt.Errorf("persist retry state: %w", err)
	}

	delay := r.backoff(n.RetryCount)
	notBefore := time.Now().Add(delay)

	msg := toLogMessage(n, nextRetryCount, &notBefore)
	if err := r.producer.Publish(ctx, msg, streamlog.PublishOptions{
		Topic:     streamlog.TopicRetry,
		NotBefore: &notBefore,
	}); err != nil {
		// If the retry topic publish itself fails, the notification would
		// otherwise be silently lost. Route straight to DLQ instead.
		return r.toDLQ(ctx, n, ReasonRetryEnqueueFailed, fmt.Sprintf("retry publish failed: %v", err))
	}

	r.hooks.OnRetried(n.Channel)
	return nil
}

// backoff computes base_delay * 2^retryCount with uniform jitter in
// [0, delay/2], per spec.md §4.5, using the notification's current
// (pre-increment) retry_count — attempt 1 waits base_delay*2^0, attempt 2
// waits base_delay*2^1, and so on. Plain math/rand is used because no
// backoff library appears anywhere directly imported in the example corpus —
// only as an unexercised transitive OpenTelemetry dependency (see DESIGN.md).
func (r *Router) backoff(retryCount int) time.Duration {
	exp := math.Pow(2, float64(retryCount))
	delay := time.Duration(float64(r.baseDelay) * exp)
	jitter := time.Duration(r.rng.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func (r *Router) terminalFail(ctx context.Context, n *domain.Notification, errMsg string) error {
	if err := r.repo.MarkFailedTerminal(ctx, n.ID, errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark failed terminal: %w", err)
	}
	return r.publishDLQ(ctx, n, ReasonMaxRetriesExceeded)
}

func (r *Router) toDLQ(ctx context.Context, n *domain.Notification, reasonCode, detail string) error {
	if err := r.repo.MarkFailedTerminal(ctx, n.ID, detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark failed terminal: %w", err)
	}
	return r.publishDLQ(ctx, n, reasonCode)
}

func (r *Router) publishDLQ(ctx context.Context, n *domain.Notification, reasonCode string) error {
	msg := toLogMessage(n, n.RetryCount, nil)
	if err := r.producer.Publish(ctx, msg, streamlog.PublishOptions{
		Topic:         streamlog.TopicDLQ,
		DLQReason:     reasonCode,
		OriginalTopic: streamlog.TopicNotifications,
	}); err != nil {
		return err
	}
	r.hooks.OnDLQ(n.Channel)
	return nil
}

func toLogMessage(n *domain.Notification, retryCount int, notBefore *time.Time) domain.LogMessage {
	return domain.LogMessage{
		ID:             n.ID,
		SchemaVersion:  domain.CurrentSchemaVersion,
		Timestamp:      time.Now().UTC(),
		UserID:         n.UserID,
		TenantID:       n.TenantID,
		Channel:        n.Channel,
		Type:           n.Type,
		Priority:       n.Priority,
		Payload:        n.Payload,
		ScheduledFor:   n.ScheduledFor,
		CorrelationID:  n.CorrelationID,
		IdempotencyKey: n.IdempotencyKey,
		RetryCount:     retryCount,
		MaxRetries:     n.MaxRetries,
	}
}
