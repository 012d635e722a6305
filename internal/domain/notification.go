package domain

import "time"

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail       Channel = "EMAIL"
	ChannelSMS         Channel = "SMS"
	ChannelPushIOS     Channel = "PUSH_IOS"
	ChannelPushAndroid Channel = "PUSH_ANDROID"
	ChannelWebhook     Channel = "WEBHOOK"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPushIOS, ChannelPushAndroid, ChannelWebhook:
		return true
	}
	return false
}

// IsPush reports whether c is one of the two push channels that share the
// Web Push adapter.
func (c Channel) IsPush() bool {
	return c == ChannelPushIOS || c == ChannelPushAndroid
}

// Type classifies the business intent of a notification, independent of channel.
type Type string

const (
	TypeTransactional Type = "TRANSACTIONAL"
	TypeMarketing     Type = "MARKETING"
	TypeAlert         Type = "ALERT"
	TypeReminder      Type = "REMINDER"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeTransactional, TypeMarketing, TypeAlert, TypeReminder:
		return true
	}
	return false
}

// Priority controls queue ordering. Urgent is processed first.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification. Transitions form the DAG
// described in spec.md §3:
//
//	PENDING    -> PROCESSING -> {SENT -> DELIVERED, FAILED, RETRYING -> PROCESSING}
//	SCHEDULED  -> PENDING
//	(any non-terminal) -> CANCELLED
//
// Terminal states: DELIVERED, FAILED (when retry_count == max_retries), CANCELLED.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusScheduled  Status = "SCHEDULED"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
	StatusRetrying   Status = "RETRYING"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is expected for this status.
// FAILED is only terminal once retry_count has reached max_retries; callers that
// need that distinction should use Notification.IsFailedFinal instead.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Notification is the canonical record (spec.md §3).
type Notification struct {
	ID             string     `json:"id"`
	BatchID        *string    `json:"batch_id,omitempty"`
	UserID         string     `json:"user_id"`
	TenantID       *string    `json:"tenant_id,omitempty"`
	Channel        Channel    `json:"channel"`
	Type           Type       `json:"type"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	Payload        []byte     `json:"payload"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	CorrelationID  string     `json:"correlation_id"`
	ProviderName   *string    `json:"provider_name,omitempty"`
	ProviderMsgID  *string    `json:"provider_message_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsFailedFinal reports whether this row is in the terminal FAILED state
// (retries exhausted), as opposed to a transient failure awaiting retry.
func (n *Notification) IsFailedFinal() bool {
	return n.Status == StatusFailed && n.RetryCount >= n.MaxRetries
}

// Batch groups notifications created together via CreateBatch (teacher-inherited
// bulk-submission sugar; not part of the core data model's invariants).
type Batch struct {
	ID        string    `json:"id"`
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Sent      int       `json:"sent"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateNotificationRequest is the inbound payload for a single notification.
type CreateNotificationRequest struct {
	UserID         string     `json:"user_id" validate:"required"`
	TenantID       *string    `json:"tenant_id,omitempty"`
	Channel        Channel    `json:"channel" validate:"required"`
	Type           Type       `json:"type" validate:"required"`
	Priority       Priority   `json:"priority,omitempty"`
	Payload        []byte     `json:"payload" validate:"required"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
	MaxRetries     *int       `json:"max_retries,omitempty"`
}

// CreateBatchRequest wraps a slice of notification requests.
type CreateBatchRequest struct {
	Notifications []CreateNotificationRequest `json:"notifications"`
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	UserID  *string
	Status  *Status
	Channel *Channel
	From    *time.Time
	To      *time.Time
	Page    int
	Limit   int
}

// Event is an append-only lifecycle record, one per status transition,
// written in the same transaction that updates the Notification row.
type Event struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	Metadata       []byte    `json:"metadata,omitempty"`
}

// LogMessage is the C1 payload described in spec.md §3.
type LogMessage struct {
	ID              string     `json:"id"`
	SchemaVersion   int        `json:"schema_version"`
	Timestamp       time.Time  `json:"timestamp"`
	UserID          string     `json:"user_id"`
	TenantID        *string    `json:"tenant_id,omitempty"`
	Channel         Channel    `json:"channel"`
	Type            Type       `json:"type"`
	Priority        Priority   `json:"priority"`
	Payload         []byte     `json:"payload"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	CorrelationID   string     `json:"correlation_id"`
	IdempotencyKey  string     `json:"idempotency_key"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	AttemptDeadline *time.Time `json:"attempt_deadline,omitempty"`
}

// CurrentSchemaVersion is stamped on every published LogMessage.
const CurrentSchemaVersion = 1
