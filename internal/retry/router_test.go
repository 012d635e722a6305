package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/retry"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	failNext bool
}

type published struct {
	msg  domain.LogMessage
	opts streamlog.PublishOptions
}

func (f *fakePublisher) Publish(_ context.Context, msg domain.LogMessage, opts streamlog.PublishOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("publish failed")
	}
	f.messages = append(f.messages, published{msg: msg, opts: opts})
	return nil
}

func (f *fakePublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

func newNotification(retryCount int) *domain.Notification {
	return &domain.Notification{
		ID:             "n1",
		UserID:         "u1",
		Channel:        domain.ChannelEmail,
		Type:           domain.TypeTransactional,
		Priority:       domain.PriorityMedium,
		RetryCount:     retryCount,
		IdempotencyKey: "n1",
	}
}

func TestRoute_NonRetryableGoesStraightToDLQWithPermanentErrorReason(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	router := retry.NewRouter(repo, pub, 1*time.Second, 5, retry.Hooks{})

	n := newNotification(0)
	_ = repo.Create(context.Background(), n)

	err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewPermanentError("bad payload", errors.New("boom")),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.Topic != streamlog.TopicDLQ {
		t.Fatalf("expected DLQ topic, got %q", got.opts.Topic)
	}
	if got.opts.DLQReason != retry.ReasonPermanentError {
		t.Fatalf("expected reason code %q, got %q", retry.ReasonPermanentError, got.opts.DLQReason)
	}
}

func TestRoute_RetryableSchedulesRetryOnRetryTopic(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	router := retry.NewRouter(repo, pub, 1*time.Second, 5, retry.Hooks{})

	n := newNotification(0)
	_ = repo.Create(context.Background(), n)

	err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewTransientError("smtp timeout", errors.New("boom")),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.Topic != streamlog.TopicRetry {
		t.Fatalf("expected retry topic, got %q", got.opts.Topic)
	}
	if got.msg.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", got.msg.RetryCount)
	}
}

func TestRoute_MaxRetriesExceededGoesToDLQWithMaxRetriesReason(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	router := retry.NewRouter(repo, pub, 1*time.Second, 3, retry.Hooks{})

	n := newNotification(3) // already at the configured max
	_ = repo.Create(context.Background(), n)

	err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewTransientError("smtp timeout", errors.New("boom")),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.Topic != streamlog.TopicDLQ {
		t.Fatalf("expected DLQ topic, got %q", got.opts.Topic)
	}
	if got.opts.DLQReason != retry.ReasonMaxRetriesExceeded {
		t.Fatalf("expected reason code %q, got %q", retry.ReasonMaxRetriesExceeded, got.opts.DLQReason)
	}
}

func TestRoute_RetryPublishFailureFallsBackToDLQWithRetryEnqueueFailedReason(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{failNext: true}
	router := retry.NewRouter(repo, pub, 1*time.Second, 5, retry.Hooks{})

	n := newNotification(0)
	_ = repo.Create(context.Background(), n)

	err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewTransientError("smtp timeout", errors.New("boom")),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.Topic != streamlog.TopicDLQ {
		t.Fatalf("expected DLQ topic, got %q", got.opts.Topic)
	}
	if got.opts.DLQReason != retry.ReasonRetryEnqueueFailed {
		t.Fatalf("expected reason code %q, got %q", retry.ReasonRetryEnqueueFailed, got.opts.DLQReason)
	}
}

func TestRoute_PerNotificationMaxRetriesOverridesRouterDefault(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	router := retry.NewRouter(repo, pub, 1*time.Second, 1, retry.Hooks{}) // router default: 1

	n := newNotification(0)
	n.MaxRetries = 5 // override allows more retries than the router default
	_ = repo.Create(context.Background(), n)

	err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewTransientError("smtp timeout", errors.New("boom")),
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.Topic != streamlog.TopicRetry {
		t.Fatalf("expected retry topic (override should allow a retry), got %q", got.opts.Topic)
	}
}

func TestRoute_HooksFireOnRetryAndDLQ(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	var retried, dlq []domain.Channel
	router := retry.NewRouter(repo, pub, 1*time.Second, 5, retry.Hooks{
		OnRetried: func(ch domain.Channel) { retried = append(retried, ch) },
		OnDLQ:     func(ch domain.Channel) { dlq = append(dlq, ch) },
	})

	retryable := newNotification(0)
	_ = repo.Create(context.Background(), retryable)
	if err := router.Route(context.Background(), retry.Outcome{
		Notification: retryable,
		Err:          domain.NewTransientError("timeout", errors.New("boom")),
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	permanent := newNotification(0)
	permanent.ID = "n2"
	permanent.IdempotencyKey = "n2"
	_ = repo.Create(context.Background(), permanent)
	if err := router.Route(context.Background(), retry.Outcome{
		Notification: permanent,
		Err:          domain.NewPermanentError("bad payload", errors.New("boom")),
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(retried) != 1 || retried[0] != domain.ChannelEmail {
		t.Fatalf("expected one OnRetried call for email, got %v", retried)
	}
	if len(dlq) != 1 || dlq[0] != domain.ChannelEmail {
		t.Fatalf("expected one OnDLQ call for email, got %v", dlq)
	}
}

// TestBackoff_UsesPreIncrementRetryCountAsExponent pins the exact delay
// sequence spec.md §4.5 requires: base_delay * 2^retry_count using the
// notification's current (pre-increment) retry_count, so attempt 1 waits
// ~base_delay, attempt 2 waits ~2*base_delay, and so on. Jitter adds at most
// half the computed delay, so attempt 1 lands in [base_delay, 1.5*base_delay];
// the test checks [base_delay-100ms, 2*base_delay), which is enough to rule
// out the post-increment exponent.
func TestBackoff_UsesPreIncrementRetryCountAsExponent(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	baseDelay := 1 * time.Second
	router := retry.NewRouter(repo, pub, baseDelay, 5, retry.Hooks{})

	n := newNotification(0) // retry_count=0 before this attempt: attempt 1
	_ = repo.Create(context.Background(), n)

	start := time.Now()
	if err := router.Route(context.Background(), retry.Outcome{
		Notification: n,
		Err:          domain.NewTransientError("timeout", errors.New("boom")),
	}); err != nil {
		t.Fatalf("Route: %v", err)
	}

	got := pub.last()
	if got.opts.NotBefore == nil {
		t.Fatal("expected NotBefore to be set for a retry publish")
	}
	delay := got.opts.NotBefore.Sub(start)

	// attempt 1 exponent is retry_count=0 -> base_delay*2^0 = base_delay,
	// not base_delay*2^1. Anything at or above 2*baseDelay means the
	// exponent was computed from the post-increment retry count instead.
	if delay >= 2*baseDelay {
		t.Fatalf("delay %v looks like it used the post-increment retry_count (expected < %v)", delay, 2*baseDelay)
	}
	if delay < baseDelay-100*time.Millisecond {
		t.Fatalf("delay %v is below the expected base_delay floor %v", delay, baseDelay)
	}
}
