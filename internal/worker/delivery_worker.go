package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/breaker"
	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/provider"
	"github.com/notifyhub/event-driven-arch/internal/queue"
	"github.com/notifyhub/event-driven-arch/internal/ratelimiter"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/retry"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// Hooks carries the metric callback functions injected by main, keeping the
// worker itself metrics-agnostic.
type Hooks struct {
	OnSent   func(channel domain.Channel, latency time.Duration)
	OnFailed func(channel domain.Channel)
}

// DeliveryWorker consumes one Kafka topic within a consumer group, applies
// per-channel rate limiting and circuit breaking, delivers via the matching
// provider adapter, and hands failures to the Retry Router (spec.md §4.2,
// §4.4). It prefetches a small window of messages and dispatches them in
// priority order via the repurposed queue.PriorityQueue (spec.md §5) before
// committing their offsets together, so a crash mid-window redelivers the
// whole window rather than skipping an incomplete dispatch.
type DeliveryWorker struct {
	id       int
	topic    string
	consumer *streamlog.Consumer

	repo        repository.NotificationRepository
	providers   *provider.Registry
	limiter     *ratelimiter.ChannelLimiters
	breakers    *breaker.Registry
	retryRouter *retry.Router

	dispatchTimeout map[string]time.Duration
	windowSize      int
	windowWait      time.Duration

	logger *zap.Logger
	hooks  Hooks
}

// NewDeliveryWorker constructs a worker bound to a single topic/partition
// assignment within the consumer group.
func NewDeliveryWorker(
	id int,
	topic string,
	consumer *streamlog.Consumer,
	repo repository.NotificationRepository,
	providers *provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	breakers *breaker.Registry,
	retryRouter *retry.Router,
	dispatchTimeout map[string]time.Duration,
	logger *zap.Logger,
	hooks Hooks,
) *DeliveryWorker {
	if hooks.OnSent == nil {
		hooks.OnSent = func(domain.Channel, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.Channel) {}
	}
	return &DeliveryWorker{
		id:              id,
		topic:           topic,
		consumer:        consumer,
		repo:            repo,
		providers:       providers,
		limiter:         limiter,
		breakers:        breakers,
		retryRouter:     retryRouter,
		dispatchTimeout: dispatchTimeout,
		windowSize:      16,
		windowWait:      200 * time.Millisecond,
		logger:          logger.With(zap.Int("worker_id", id), zap.String("topic", topic)),
		hooks:           hooks,
	}
}

// Run blocks, fetching and dispatching windows of messages until ctx is
// cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	w.logger.Info("delivery worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("delivery worker stopping")
			return
		}

		window, err := w.fillWindow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("fetch failed", zap.Error(err))
			continue
		}
		if len(window) == 0 {
			continue
		}

		w.dispatchWindow(ctx, window)
	}
}

// fillWindow blocks for at least one message, then opportunistically grabs
// more up to windowSize, each bounded by windowWait so the worker does not
// stall waiting for a full window that may never arrive.
func (w *DeliveryWorker) fillWindow(ctx context.Context) ([]streamlog.Fetched, error) {
	first, err := w.consumer.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	window := []streamlog.Fetched{first}

	for len(window) < w.windowSize {
		fctx, cancel := context.WithTimeout(ctx, w.windowWait)
		next, err := w.consumer.Fetch(fctx)
		cancel()
		if err != nil {
			break
		}
		window = append(window, next)
	}
	return window, nil
}

func (w *DeliveryWorker) dispatchWindow(ctx context.Context, window []streamlog.Fetched) {
	pq := queue.New()
	byID := make(map[string]streamlog.Fetched, len(window))

	for _, f := range window {
		byID[f.Message.ID] = f
		_ = pq.Enqueue(queue.Item{
			NotificationID: f.Message.ID,
			Channel:        f.Message.Channel,
			Priority:       f.Message.Priority,
		})
	}

	for !pq.Empty() {
		item, ok := pq.Dequeue(ctx)
		if !ok {
			break
		}
		w.dispatchOne(ctx, byID[item.NotificationID])
	}

	for _, f := range window {
		if err := w.consumer.Commit(ctx, f); err != nil {
			w.logger.Error("commit failed", zap.String("notification_id", f.Message.ID), zap.Error(err))
		}
	}
}

// dispatchOne dispatches a single fetched message. A panic anywhere in this
// call (most plausibly inside a provider adapter decoding a malformed
// payload) is recovered at this boundary: it is logged with full context and
// routed to the Retry Router as an unclassified BUG rather than unwinding
// into the worker's goroutine and killing it (spec.md §7).
func (w *DeliveryWorker) dispatchOne(ctx context.Context, f streamlog.Fetched) {
	log := w.logger.With(zap.String("notification_id", f.Message.ID))
	var n *domain.Notification

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered in delivery worker",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if n != nil {
				w.routeFailure(ctx, n, domain.NewUnknownError(fmt.Sprintf("panic: %v", r), nil))
				w.hooks.OnFailed(n.Channel)
			}
		}
	}()

	if notBefore := f.Header(streamlog.HeaderNotBefore); notBefore != "" {
		if t, err := time.Parse(time.RFC3339, notBefore); err == nil {
			if wait := time.Until(t); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
		}
	}

	fetched, err := w.repo.GetByID(ctx, f.Message.ID)
	if err != nil {
		log.Error("notification not found for dispatch", zap.Error(err))
		return
	}
	n = fetched

	// Idempotency re-check: redelivery of the same Kafka message must not
	// dispatch twice.
	if n.Status == domain.StatusDelivered || n.Status == domain.StatusSent ||
		n.Status == domain.StatusCancelled || n.IsFailedFinal() {
		log.Debug("notification already resolved, skipping", zap.String("status", string(n.Status)))
		return
	}

	ok, err := w.repo.CASToProcessing(ctx, n.ID)
	if err != nil {
		log.Error("cas to processing failed", zap.Error(err))
		return
	}
	if !ok {
		log.Debug("notification already claimed by another worker")
		return
	}

	if err := w.limiter.Wait(ctx, n.Channel); err != nil {
		return
	}

	prov, ok := w.providers.Resolve(n.Channel)
	if !ok {
		log.Error("no provider registered for channel", zap.String("channel", string(n.Channel)))
		w.routeFailure(ctx, n, domain.NewUnknownError("no provider registered", nil))
		return
	}

	start := time.Now()
	result, sendErr := w.send(ctx, prov, n)
	elapsed := time.Since(start)

	if sendErr != nil {
		dispatchErr := classify(sendErr)

		// Per spec.md §4.3: when the primary's circuit is open and the
		// failure is retryable, try the channel's fallback adapter once
		// before handing off to the Retry Router.
		if errors.Is(sendErr, breaker.ErrOpen) && dispatchErr.Retryable() {
			if fallback, ok := w.providers.ResolveFallback(n.Channel); ok {
				log.Warn("primary circuit open, trying fallback", zap.String("fallback", fallback.Name()))
				fbResult, fbErr := w.send(ctx, fallback, n)
				if fbErr == nil {
					result, sendErr = fbResult, nil
					prov = fallback
				} else {
					dispatchErr = classify(fbErr)
				}
			}
		}

		if sendErr != nil {
			log.Warn("dispatch failed", zap.Error(dispatchErr), zap.Int("retry_count", n.RetryCount))
			w.routeFailure(ctx, n, dispatchErr)
			w.hooks.OnFailed(n.Channel)
			return
		}
	}

	if err := w.repo.MarkSent(ctx, n.ID, prov.Name(), result.ProviderMessageID, result.SentAt); err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return
	}

	if n.BatchID != nil {
		batchID := *n.BatchID
		go func() {
			if err := w.repo.UpdateBatchCounts(context.Background(), batchID); err != nil {
				log.Warn("failed to update batch counts", zap.Error(err))
			}
		}()
	}

	w.hooks.OnSent(n.Channel, elapsed)
	log.Info("notification sent", zap.String("provider_msg_id", result.ProviderMessageID), zap.Duration("latency", elapsed))
}

// send runs one provider's Send through its own named breaker, bounded by
// that adapter's configured dispatch timeout.
func (w *DeliveryWorker) send(ctx context.Context, prov provider.Provider, n *domain.Notification) (*provider.SendResult, error) {
	// Timeouts are configured per channel (e.g. "email"), not per adapter
	// instance, so a fallback shares its primary's budget.
	timeoutKey, _, _ := strings.Cut(prov.Name(), ".")
	timeout := w.dispatchTimeout[timeoutKey]
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *provider.SendResult
	err := breaker.Execute(dctx, w.breakers, prov.Name(), func(ctx context.Context) error {
		var sendErr error
		result, sendErr = prov.Send(ctx, n)
		return sendErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *DeliveryWorker) routeFailure(ctx context.Context, n *domain.Notification, err *domain.DispatchError) {
	if routeErr := w.retryRouter.Route(ctx, retry.Outcome{Notification: n, Err: err}); routeErr != nil {
		w.logger.Error("retry routing failed", zap.String("notification_id", n.ID), zap.Error(routeErr))
	}
}

// classify normalizes an error from breaker.Execute (which may wrap
// breaker.ErrOpen or a *domain.DispatchError from the provider) into a
// DispatchError the Retry Router can act on.
func classify(err error) *domain.DispatchError {
	var dispatchErr *domain.DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr
	}
	// Breaker-open rejections short-circuit the dispatch entirely; treat them
	// as transient so the notification is retried once the breaker recovers.
	return domain.NewTransientError("circuit breaker open", err)
}
