// Package ingestion implements the Ingestion Service (C8): the single HTTP
// submission path's six-step algorithm (spec.md §4.1) — derive or accept an
// idempotency key, probe the Dedup Cache, persist, write back to the cache,
// publish to the Message Log, and absorb any post-commit publish failure
// rather than fail a request whose Store write already succeeded.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/repository"
	"github.com/notifyhub/event-driven-arch/internal/streamlog"
)

// DedupCache is the narrow subset of *dedupcache.Cache the Ingestion Service
// needs; accepting an interface keeps this package testable without a Redis
// instance.
type DedupCache interface {
	Seen(ctx context.Context, idempotencyKey string) (id string, ok bool, err error)
	MarkSeen(ctx context.Context, idempotencyKey, notificationID string, ttl time.Duration) error
}

// Publisher is the narrow subset of *streamlog.Producer the Ingestion
// Service needs.
type Publisher interface {
	Publish(ctx context.Context, msg domain.LogMessage, opts streamlog.PublishOptions) error
}

const maxBatchSize = 1000

// Service is the Ingestion Service. All business rules (idempotency,
// validation, batch limits, publish-failure absorption) live here; HTTP
// handlers depend on this and nothing lower.
type Service struct {
	repo     repository.NotificationRepository
	cache    DedupCache
	producer Publisher
	logger   *zap.Logger
	validate *validator.Validate

	dedupTTL          time.Duration
	defaultMaxRetries int
}

func New(
	repo repository.NotificationRepository,
	cache DedupCache,
	producer Publisher,
	dedupTTL time.Duration,
	defaultMaxRetries int,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:              repo,
		cache:             cache,
		producer:          producer,
		logger:            logger,
		validate:          validator.New(),
		dedupTTL:          dedupTTL,
		defaultMaxRetries: defaultMaxRetries,
	}
}

// Submit runs spec.md §4.1's six steps for one request. The returned bool
// reports whether the notification already existed (true = idempotent
// replay, caller should respond 200; false = newly accepted, caller should
// respond 201).
func (s *Service) Submit(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, bool, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, false, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = deriveIdempotencyKey(req.UserID, req.Payload, time.Now())
	}

	// Step 2: cache probe.
	if id, ok, err := s.cache.Seen(ctx, idempotencyKey); err == nil && ok {
		existing, err := s.repo.GetByID(ctx, id)
		if err == nil {
			if !sameRequest(existing, req) {
				return nil, false, domain.ErrConflict
			}
			return existing, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("fetch cached notification: %w", err)
		}
		// Cache pointed at a row the Store no longer has; fall through to a
		// normal create, the unique index is still the authoritative guard.
	} else if err != nil {
		s.logger.Warn("dedup cache probe failed, falling back to store", zap.Error(err))
	}

	n := s.buildNotification(req, idempotencyKey, nil)

	// Step 3: persist. On idempotency-key conflict, recover the existing row.
	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, getErr := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr != nil {
				return nil, false, fmt.Errorf("recover conflicting notification: %w", getErr)
			}
			if !sameRequest(existing, req) {
				return nil, false, domain.ErrConflict
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("persist notification: %w", err)
	}

	// Step 4: cache-write (best-effort — the unique index is the guard of
	// record, the cache only spares a Store round trip on the common path).
	if err := s.cache.MarkSeen(ctx, idempotencyKey, n.ID, s.dedupTTL); err != nil {
		s.logger.Warn("dedup cache write failed", zap.String("id", n.ID), zap.Error(err))
	}

	// Steps 5 & 6: publish now unless scheduled for the future, in which case
	// the Scheduler (C9) publishes at due time. Publish failure never fails
	// the request — the record is already durable.
	if n.Status == domain.StatusPending {
		s.publish(ctx, n)
	}

	return n, false, nil
}

// CreateBatch validates and persists up to maxBatchSize notifications under
// one batch id, then runs the same per-item publish step as Submit
// (teacher-inherited bulk-submission sugar; additive to spec.md §3).
func (s *Service) CreateBatch(ctx context.Context, requests []domain.CreateNotificationRequest) (*domain.Batch, error) {
	if len(requests) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(requests) > maxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()

	notifications := make([]*domain.Notification, len(requests))
	for i, req := range requests {
		if err := s.validateRequest(req); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		key := req.IdempotencyKey
		if key == "" {
			key = deriveIdempotencyKey(req.UserID, req.Payload, now)
		}
		notifications[i] = s.buildNotification(req, key, &batchID)
		notifications[i].CreatedAt = now
		notifications[i].UpdatedAt = now
	}

	batch, err := s.repo.CreateBatch(ctx, batchID, notifications)
	if err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	for _, n := range notifications {
		if n.Status == domain.StatusPending {
			s.publish(ctx, n)
		}
	}

	return batch, nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch n.Status {
	case domain.StatusCancelled:
		return domain.ErrAlreadyCancelled
	case domain.StatusProcessing, domain.StatusSent, domain.StatusDelivered:
		return domain.ErrNotCancellable
	}

	return s.repo.Cancel(ctx, id)
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ---- private helpers ----

func (s *Service) validateRequest(req domain.CreateNotificationRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if !req.Channel.IsValid() {
		return domain.ErrInvalidChannel
	}
	if !req.Type.IsValid() {
		return domain.ErrInvalidType
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		return domain.ErrInvalidPriority
	}
	return validatePayloadShape(req.Channel, req.Payload)
}

func (s *Service) buildNotification(req domain.CreateNotificationRequest, idempotencyKey string, batchID *string) *domain.Notification {
	now := time.Now().UTC()
	status := domain.StatusPending
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		status = domain.StatusScheduled
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}

	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries > 0 {
		maxRetries = *req.MaxRetries
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	return &domain.Notification{
		ID:             uuid.New().String(),
		BatchID:        batchID,
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		Channel:        req.Channel,
		Type:           req.Type,
		Priority:       priority,
		Status:         status,
		Payload:        req.Payload,
		ScheduledFor:   req.ScheduledFor,
		MaxRetries:     maxRetries,
		IdempotencyKey: idempotencyKey,
		CorrelationID:  correlationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// publish is step 5/6: publish to the main topic, falling back once to the
// retry topic with a producer-failure header, and absorbing a second
// failure entirely — the Scheduler's stuck-pending recovery sweep is the
// backstop, so a publish failure here must never surface to the caller.
func (s *Service) publish(ctx context.Context, n *domain.Notification) {
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

	err := s.producer.Publish(ctx, msg, streamlog.PublishOptions{Topic: streamlog.TopicNotifications})
	if err == nil {
		return
	}
	s.logger.Warn("primary publish failed, attempting retry-topic fallback",
		zap.String("id", n.ID), zap.Error(err))

	fallbackErr := s.producer.Publish(ctx, msg, streamlog.PublishOptions{
		Topic:           streamlog.TopicRetry,
		ProducerFailure: true,
	})
	if fallbackErr != nil {
		s.logger.Error("fallback publish also failed, leaving for scheduler recovery sweep",
			zap.String("id", n.ID), zap.Error(fallbackErr))
	}
}

// sameRequest reports whether an idempotency-key hit's canonical fields
// match the incoming request, per spec.md §4.1's CONFLICT_MISMATCH rule.
func sameRequest(existing *domain.Notification, req domain.CreateNotificationRequest) bool {
	return existing.UserID == req.UserID &&
		existing.Channel == req.Channel &&
		existing.Type == req.Type &&
		string(existing.Payload) == string(req.Payload)
}

// deriveIdempotencyKey implements spec.md §4.1's default derivation:
// hash(user_id‖payload‖minute_bucket), so retried requests within the same
// minute collapse onto one key even without a client-supplied one.
func deriveIdempotencyKey(userID string, payload []byte, at time.Time) string {
	bucket := at.UTC().Truncate(time.Minute).Unix()
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", bucket)
	return hex.EncodeToString(h.Sum(nil))
}
