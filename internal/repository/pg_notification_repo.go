package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications
			(id, batch_id, user_id, tenant_id, channel, type, priority, status,
			 payload, scheduled_for, retry_count, max_retries,
			 idempotency_key, correlation_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		n.ID, n.BatchID, n.UserID, n.TenantID, n.Channel, n.Type, n.Priority, n.Status,
		n.Payload, n.ScheduledFor, n.RetryCount, n.MaxRetries,
		n.IdempotencyKey, n.CorrelationID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}

	if err := appendEvent(ctx, tx, n.ID, "created", nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, selectColumns+`FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, selectColumns+`FROM notifications WHERE idempotency_key = $1`, key)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, selectColumns+`FROM notifications WHERE provider_msg_id = $1`, providerMsgID)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)

	var total int
	countQuery := "SELECT COUNT(*) FROM notifications" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	offset := (page - 1) * limit

	args = append(args, limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(selectColumns+`FROM notifications%s ORDER BY created_at DESC LIMIT %s OFFSET %s`,
		where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

// CASToProcessing is the conditional update described in spec.md §4.2: it only
// succeeds if the row is currently PENDING or RETRYING, proving this worker
// is the one that gets to dispatch.
func (r *pgNotificationRepository) CASToProcessing(ctx context.Context, id string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'PROCESSING', updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'RETRYING')`, id)
	if err != nil {
		return false, fmt.Errorf("cas to processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := appendEvent(ctx, tx, id, "processing", nil); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, id, providerName, providerMsgID string, sentAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'SENT', provider_name = $1, provider_msg_id = $2,
		    sent_at = $3, error_message = NULL, updated_at = now()
		WHERE id = $4`, providerName, providerMsgID, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	if err := appendEvent(ctx, tx, id, "sent", nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkDelivered flips SENT->DELIVERED for the row whose provider_msg_id
// matches, used by the Status Ingress callback handler (spec.md §6). Returns
// the row unchanged (no error) if it isn't SENT anymore, since a duplicate or
// late callback is not itself an error condition.
func (r *pgNotificationRepository) MarkDelivered(ctx context.Context, providerMsgID string, deliveredAt time.Time, reason string) (*domain.Notification, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, selectColumns+`FROM notifications WHERE provider_msg_id = $1 FOR UPDATE`, providerMsgID)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by provider message id: %w", err)
	}
	if n.Status != domain.StatusSent {
		return n, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications SET status = 'DELIVERED', delivered_at = $1, updated_at = now()
		WHERE id = $2`, deliveredAt, n.ID)
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	if err := appendEvent(ctx, tx, n.ID, "delivered", []byte(fmt.Sprintf(`{"reason":%q}`, reason))); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	n.Status = domain.StatusDelivered
	n.DeliveredAt = &deliveredAt
	return n, nil
}

// MarkFailedTerminal sets status FAILED and leaves retry_count as it is. The
// Retry Router calls it for exhausted retries, permanent errors and failed
// retry publishes, and Status Ingress for a provider-reported failure, so
// retry_count can be below max_retries. Non-terminal failures go through
// ScheduleRetry instead.
func (r *pgNotificationRepository) MarkFailedTerminal(ctx context.Context, id, errMsg string, failedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'FAILED', error_message = $1, failed_at = $2, updated_at = now()
		WHERE id = $3`, errMsg, failedAt, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := appendEvent(ctx, tx, id, "failed", nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ScheduleRetry increments retry_count and moves the row to RETRYING. The
// actual delayed republish is handled by the Retry Router (§4.5); this only
// persists the bookkeeping the Store is authoritative for.
func (r *pgNotificationRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, errMsg string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'RETRYING', retry_count = $1, error_message = $2, updated_at = now()
		WHERE id = $3`, retryCount, errMsg, id)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if err := appendEvent(ctx, tx, id, "retrying", nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `UPDATE notifications SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := appendEvent(ctx, tx, id, strings.ToLower(string(status)), nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) Cancel(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `UPDATE notifications SET status = 'CANCELLED', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if err := appendEvent(ctx, tx, id, "cancelled", nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) FindDueScheduled(ctx context.Context, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`FROM notifications
		WHERE status = 'SCHEDULED' AND scheduled_for <= now()
		ORDER BY scheduled_for ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) FindStuckPending(ctx context.Context, age time.Duration, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`FROM notifications
		WHERE status = 'PENDING' AND created_at <= now() - $1::interval
		ORDER BY created_at ASC
		LIMIT $2`, fmt.Sprintf("%d milliseconds", age.Milliseconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("find stuck pending: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) CreateBatch(ctx context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	batch := &domain.Batch{
		ID: batchID, Total: len(notifications), Pending: len(notifications),
		CreatedAt: now, UpdatedAt: now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (id, total, pending, sent, delivered, failed, cancelled, created_at, updated_at)
		VALUES ($1,$2,$3,0,0,0,0,$4,$5)`,
		batch.ID, batch.Total, batch.Pending, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for _, n := range notifications {
		_, err = tx.Exec(ctx, `
			INSERT INTO notifications
				(id, batch_id, user_id, tenant_id, channel, type, priority, status,
				 payload, scheduled_for, retry_count, max_retries,
				 idempotency_key, correlation_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			n.ID, n.BatchID, n.UserID, n.TenantID, n.Channel, n.Type, n.Priority, n.Status,
			n.Payload, n.ScheduledFor, n.RetryCount, n.MaxRetries,
			n.IdempotencyKey, n.CorrelationID, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, domain.ErrConflict
			}
			return nil, fmt.Errorf("insert batch notification: %w", err)
		}
		if err := appendEvent(ctx, tx, n.ID, "created", nil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return batch, nil
}

func (r *pgNotificationRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, total, pending, sent, delivered, failed, cancelled, created_at, updated_at
		FROM batches WHERE id = $1`, batchID)

	var b domain.Batch
	err := row.Scan(&b.ID, &b.Total, &b.Pending, &b.Sent, &b.Delivered, &b.Failed, &b.Cancelled, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get batch: %w", err)
	}

	rows, err := r.pool.Query(ctx, selectColumns+`FROM notifications WHERE batch_id = $1 ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get batch notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return &b, notifications, err
}

func (r *pgNotificationRepository) UpdateBatchCounts(ctx context.Context, batchID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batches b
		SET
			pending   = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status IN ('PENDING','SCHEDULED','PROCESSING','RETRYING')),
			sent      = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'SENT'),
			delivered = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'DELIVERED'),
			failed    = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'FAILED'),
			cancelled = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'CANCELLED'),
			updated_at = now()
		WHERE id = $1`, batchID)
	return err
}

// ---- helpers ----

const selectColumns = `
	SELECT id, batch_id, user_id, tenant_id, channel, type, priority, status,
	       payload, scheduled_for, sent_at, delivered_at, failed_at,
	       retry_count, max_retries, error_message,
	       idempotency_key, correlation_id, provider_name, provider_msg_id,
	       created_at, updated_at
	`

// appendEvent writes one lifecycle Event row within tx, per spec.md §3's
// requirement that the event log be a transactionally-consistent projection
// of Notification state.
func appendEvent(ctx context.Context, tx pgx.Tx, notificationID, eventType string, metadata []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO events (id, notification_id, event_type, timestamp, metadata)
		VALUES ($1, $2, $3, now(), $4)`,
		uuid.New().String(), notificationID, eventType, metadata)
	if err != nil {
		return fmt.Errorf("append event %q: %w", eventType, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// scanNotification reads a single notification row from any pgx row source.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID, &n.BatchID, &n.UserID, &n.TenantID, &n.Channel, &n.Type, &n.Priority, &n.Status,
		&n.Payload, &n.ScheduledFor, &n.SentAt, &n.DeliveredAt, &n.FailedAt,
		&n.RetryCount, &n.MaxRetries, &n.ErrorMessage,
		&n.IdempotencyKey, &n.CorrelationID, &n.ProviderName, &n.ProviderMsgID,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
