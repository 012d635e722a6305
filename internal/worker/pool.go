package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/breaker"
	"github.com/notifyhub/event-driven-arch/internal/config"
	"github.com/notifyhub/event-driven-arch/internal/provider"
	"github.com/notifyhub/event-driven-arch/internal/ratelimiter"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/retry"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// Pool manages the lifecycle of every Delivery Worker goroutine, split
// across the primary "notifications" topic and the "notifications.retry"
// topic (spec.md §4.3). Kafka consumer-group rebalancing assigns disjoint
// partitions to each worker sharing a group, so the pool itself stays
// unaware of partition counts.
type Pool struct {
	workers []*DeliveryWorker
	wg      sync.WaitGroup
}

// NewPool creates cfg.DispatchPoolSize workers on the primary topic and the
// same count again on the retry topic.
func NewPool(
	cfg *config.Config,
	repo repository.NotificationRepository,
	providers *provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	breakers *breaker.Registry,
	retryRouter *retry.Router,
	logger *zap.Logger,
	hooks Hooks,
) *Pool {
	p := &Pool{}

	for i := 0; i < cfg.DispatchPoolSize; i++ {
		consumer := streamlog.NewConsumer(cfg.LogBrokers, streamlog.TopicNotifications, cfg.LogConsumerGroup)
		p.workers = append(p.workers, NewDeliveryWorker(
			i, streamlog.TopicNotifications, consumer,
			repo, providers, limiter, breakers, retryRouter,
			cfg.DispatchTimeout, logger, hooks,
		))
	}

	for i := 0; i < cfg.DispatchPoolSize; i++ {
		consumer := streamlog.NewConsumer(cfg.LogBrokers, streamlog.TopicRetry, cfg.LogConsumerGroup)
		p.workers = append(p.workers, NewDeliveryWorker(
			i, streamlog.TopicRetry, consumer,
			repo, providers, limiter, breakers, retryRouter,
			cfg.DispatchTimeout, logger, hooks,
		))
	}

	return p
}

// Start launches every worker as a goroutine. Cancelling ctx triggers a
// graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *DeliveryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Lag sums each worker's consumer lag per topic, for the JSON metrics
// snapshot and the consumer_lag Prometheus gauge (spec.md §4.8).
func (p *Pool) Lag() map[string]int64 {
	lag := make(map[string]int64)
	for _, w := range p.workers {
		lag[w.topic] += w.consumer.Lag()
	}
	return lag
}

// Shutdown waits up to drainTimeout for in-flight dispatch windows to
// finish, then force-closes every worker's Kafka reader so a stuck fetch
// cannot hold the process open indefinitely. Reports false if the deadline
// was hit before every worker returned on its own.
func (p *Pool) Shutdown(drainTimeout time.Duration) (drainedCleanly bool) {
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		drainedCleanly = true
	case <-time.After(drainTimeout):
		drainedCleanly = false
	}

	for _, w := range p.workers {
		_ = w.consumer.Close()
	}
	return drainedCleanly
}
