package repository

import (
	"context"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// NotificationRepository defines all persistence operations for notifications
// and their lifecycle Events. Every status-changing method appends an Event
// row in the same transaction as the Notification update (spec.md §3), so
// the pgx implementation is the only place that invariant needs enforcing.
//
// The pgx implementation is in pg_notification_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
type NotificationRepository interface {
	// Create persists a new Notification (status PENDING or SCHEDULED) plus its
	// creation Event. Returns domain.ErrConflict if idempotency_key collides
	// with an existing row; callers should recover via GetByIdempotencyKey.
	Create(ctx context.Context, n *domain.Notification) error

	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error)
	GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)

	// CASToProcessing conditionally transitions id from PENDING or RETRYING to
	// PROCESSING. Returns ok=false (no error) if the row was not in one of
	// those states when the update ran — the caller must treat this as
	// "already handled by another worker" and ack without dispatching.
	CASToProcessing(ctx context.Context, id string) (ok bool, err error)

	MarkSent(ctx context.Context, id, providerName, providerMsgID string, sentAt time.Time) error
	MarkDelivered(ctx context.Context, providerMsgID string, deliveredAt time.Time, reason string) (*domain.Notification, error)
	MarkFailedTerminal(ctx context.Context, id, errMsg string, failedAt time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, errMsg string) error

	// UpdateStatus performs a plain (non-CAS) transition, used for
	// SCHEDULED->PENDING and RETRYING->PENDING administrative moves where no
	// concurrent writer contention is expected.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error

	Cancel(ctx context.Context, id string) error

	// FindDueScheduled returns up to limit SCHEDULED rows whose scheduled_for
	// has passed, for the Scheduler's advance-due-notifications sweep.
	FindDueScheduled(ctx context.Context, limit int) ([]*domain.Notification, error)

	// FindStuckPending returns up to limit PENDING rows older than age, for
	// the Scheduler's recovery sweep over rows that failed to publish.
	FindStuckPending(ctx context.Context, age time.Duration, limit int) ([]*domain.Notification, error)

	CreateBatch(ctx context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error)
	UpdateBatchCounts(ctx context.Context, batchID string) error
}
