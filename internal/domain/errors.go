package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict: idempotency key already exists with a different body")
	ErrInvalidChannel    = errors.New("invalid channel: must be EMAIL, SMS, PUSH_IOS, PUSH_ANDROID, or WEBHOOK")
	ErrInvalidType       = errors.New("invalid type: must be TRANSACTIONAL, MARKETING, ALERT, or REMINDER")
	ErrInvalidPriority   = errors.New("invalid priority: must be LOW, MEDIUM, HIGH, or URGENT")
	ErrInvalidUserID     = errors.New("user_id must not be empty")
	ErrInvalidPayload    = errors.New("payload does not match the channel's required shape")
	ErrBatchTooLarge     = errors.New("batch exceeds maximum of 1000 notifications")
	ErrBatchEmpty        = errors.New("batch must contain at least one notification")
	ErrAlreadyCancelled  = errors.New("notification is already cancelled")
	ErrNotCancellable    = errors.New("notification cannot be cancelled in its current status")
	ErrQueueFull         = errors.New("queue is at capacity, try again later")
	ErrUnavailable       = errors.New("a dependency is unavailable")
)
