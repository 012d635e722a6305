package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	batches       map[string]*domain.Batch
	events        []*domain.Event

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[string]*domain.Notification),
		batches:       make(map[string]*domain.Batch),
	}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notifications {
		if existing.IdempotencyKey == n.IdempotencyKey {
			return domain.ErrConflict
		}
	}
	clone := *n
	m.notifications[n.ID] = &clone
	m.appendEventLocked(n.ID, "created", nil)
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.IdempotencyKey == key {
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) GetByProviderMessageID(_ context.Context, providerMsgID string) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.ProviderMsgID != nil && *n.ProviderMsgID == providerMsgID {
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	for _, n := range m.notifications {
		if f.UserID != nil && n.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Channel != nil && n.Channel != *f.Channel {
			continue
		}
		clone := *n
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (m *MockNotificationRepository) CASToProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if n.Status != domain.StatusPending && n.Status != domain.StatusRetrying {
		return false, nil
	}
	n.Status = domain.StatusProcessing
	m.appendEventLocked(id, "processing", nil)
	return true, nil
}

func (m *MockNotificationRepository) MarkSent(_ context.Context, id, providerName, providerMsgID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusSent
	n.ProviderName = &providerName
	n.ProviderMsgID = &providerMsgID
	n.SentAt = &sentAt
	n.ErrorMessage = nil
	m.appendEventLocked(id, "sent", nil)
	return nil
}

func (m *MockNotificationRepository) MarkDelivered(_ context.Context, providerMsgID string, deliveredAt time.Time, reason string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ProviderMsgID != nil && *n.ProviderMsgID == providerMsgID {
			if n.Status != domain.StatusSent {
				clone := *n
				return &clone, nil
			}
			n.Status = domain.StatusDelivered
			n.DeliveredAt = &deliveredAt
			m.appendEventLocked(n.ID, "delivered", []byte(reason))
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) MarkFailedTerminal(_ context.Context, id, errMsg string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusFailed
	n.ErrorMessage = &errMsg
	n.FailedAt = &failedAt
	m.appendEventLocked(id, "failed", nil)
	return nil
}

func (m *MockNotificationRepository) ScheduleRetry(_ context.Context, id string, retryCount int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusRetrying
	n.RetryCount = retryCount
	n.ErrorMessage = &errMsg
	m.appendEventLocked(id, "retrying", nil)
	return nil
}

func (m *MockNotificationRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = status
	m.appendEventLocked(id, string(status), nil)
	return nil
}

func (m *MockNotificationRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusCancelled
	m.appendEventLocked(id, "cancelled", nil)
	return nil
}

func (m *MockNotificationRepository) FindDueScheduled(_ context.Context, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	now := time.Now()
	for _, n := range m.notifications {
		if n.Status == domain.StatusScheduled && n.ScheduledFor != nil && !n.ScheduledFor.After(now) {
			clone := *n
			result = append(result, &clone)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) FindStuckPending(_ context.Context, age time.Duration, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	cutoff := time.Now().Add(-age)
	for _, n := range m.notifications {
		if n.Status == domain.StatusPending && n.CreatedAt.Before(cutoff) {
			clone := *n
			result = append(result, &clone)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) CreateBatch(_ context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := &domain.Batch{
		ID:        batchID,
		Total:     len(notifications),
		Pending:   len(notifications),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.batches[batchID] = batch
	for _, n := range notifications {
		clone := *n
		m.notifications[n.ID] = &clone
		m.appendEventLocked(n.ID, "created", nil)
	}
	return batch, nil
}

func (m *MockNotificationRepository) GetBatch(_ context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	var notifications []*domain.Notification
	for _, n := range m.notifications {
		if n.BatchID != nil && *n.BatchID == batchID {
			clone := *n
			notifications = append(notifications, &clone)
		}
	}
	batchClone := *b
	return &batchClone, notifications, nil
}

func (m *MockNotificationRepository) UpdateBatchCounts(_ context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	var pending, sent, delivered, failed, cancelled int
	for _, n := range m.notifications {
		if n.BatchID == nil || *n.BatchID != batchID {
			continue
		}
		switch n.Status {
		case domain.StatusPending, domain.StatusScheduled, domain.StatusProcessing, domain.StatusRetrying:
			pending++
		case domain.StatusSent:
			sent++
		case domain.StatusDelivered:
			delivered++
		case domain.StatusFailed:
			failed++
		case domain.StatusCancelled:
			cancelled++
		}
	}
	b.Pending, b.Sent, b.Delivered, b.Failed, b.Cancelled = pending, sent, delivered, failed, cancelled
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Events exposes the appended event log for assertions in tests.
func (m *MockNotificationRepository) Events() []*domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockNotificationRepository) appendEventLocked(notificationID, eventType string, metadata []byte) {
	m.events = append(m.events, &domain.Event{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
		Metadata:       metadata,
	})
}
