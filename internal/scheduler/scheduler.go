// Package scheduler implements the Scheduler (C9): a periodic sweep with two
// responsibilities (spec.md §4.6) — advancing due SCHEDULED notifications to
// PENDING and publishing them, and recovering PENDING rows that never made
// it onto the Message Log after the Ingestion Service's best-effort publish
// failed. A short-TTL distributed lock per notification id keeps concurrent
// Scheduler replicas from double-publishing the same row.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// Locker is the narrow subset of *dedupcache.Cache the Scheduler needs.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Publisher is the narrow subset of *streamlog.Producer the Scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, msg domain.LogMessage, opts streamlog.PublishOptions) error
}

// Scheduler runs the periodic sweep described above.
type Scheduler struct {
	repo     repository.NotificationRepository
	locker   Locker
	producer Publisher
	logger   *zap.Logger

	tick       time.Duration
	batchSize  int
	stuckAge   time.Duration
	lockTTL    time.Duration
}

func New(
	repo repository.NotificationRepository,
	locker Locker,
	producer Publisher,
	tick time.Duration,
	batchSize int,
	stuckAge time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		repo:      repo,
		locker:    locker,
		producer:  producer,
		logger:    logger,
		tick:      tick,
		batchSize: batchSize,
		stuckAge:  stuckAge,
		lockTTL:   5 * time.Second,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if err := s.advanceDueScheduled(ctx); err != nil {
		s.logger.Error("advance due scheduled sweep failed", zap.Error(err))
	}
	if err := s.recoverStuckPending(ctx); err != nil {
		s.logger.Error("recover stuck pending sweep failed", zap.Error(err))
	}
}

// advanceDueScheduled is spec.md §4.6 responsibility 1: SCHEDULED rows whose
// scheduled_for has passed move to PENDING and get published.
func (s *Scheduler) advanceDueScheduled(ctx context.Context) error {
	due, err := s.repo.FindDueScheduled(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for _, n := range due {
		s.withLock(ctx, n.ID, func() {
			if err := s.repo.UpdateStatus(ctx, n.ID, domain.StatusPending); err != nil {
				s.logger.Error("failed to advance scheduled notification", zap.String("id", n.ID), zap.Error(err))
				return
			}
			s.publish(ctx, n)
		})
	}
	return nil
}

// recoverStuckPending is spec.md §4.6 responsibility 2: PENDING rows older
// than stuckAge that were never successfully published from C8 are
// republished here.
func (s *Scheduler) recoverStuckPending(ctx context.Context) error {
	stuck, err := s.repo.FindStuckPending(ctx, s.stuckAge, s.batchSize)
	if err != nil {
		return err
	}

	for _, n := range stuck {
		s.withLock(ctx, n.ID, func() {
			s.logger.Warn("republishing stuck pending notification", zap.String("id", n.ID))
			s.publish(ctx, n)
		})
	}
	return nil
}

func (s *Scheduler) withLock(ctx context.Context, notificationID string, fn func()) {
	lockName := "sched:" + notificationID
	ok, err := s.locker.AcquireLock(ctx, lockName, s.lockTTL)
	if err != nil {
		s.logger.Error("lock acquisition failed", zap.String("id", notificationID), zap.Error(err))
		return
	}
	if !ok {
		// Another scheduler replica already owns this row's sweep this tick.
		return
	}
	defer func() {
		if err := s.locker.ReleaseLock(ctx, lockName); err != nil {
			s.logger.Warn("lock release failed", zap.String("id", notificationID), zap.Error(err))
		}
	}()
	fn()
}

func (s *Scheduler) publish(ctx context.Context, n *domain.Notification) {
	msg := domain.LogMessage{
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
		RetryCount:     n.RetryCount,
		MaxRetries:     n.MaxRetries,
	}

	if err := s.producer.Publish(ctx, msg, streamlog.PublishOptions{Topic: streamlog.TopicNotifications}); err != nil {
		s.logger.Error("scheduler publish failed, will retry next tick", zap.String("id", n.ID), zap.Error(err))
	}
}
