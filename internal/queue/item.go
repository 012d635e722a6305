package queue

import "github.com/notifyhub/event-driven-arch/internal/domain"

// Item is the minimal data a Delivery Worker needs to order a prefetched
// Kafka message before dispatch. The full Notification is re-fetched from
// the Store by ID, keeping the queue lightweight and the Store authoritative.
type Item struct {
	NotificationID string
	Channel        domain.Channel
	Priority       domain.Priority
	// Offset identifies the underlying Kafka message so the worker can
	// commit it once dispatch completes.
	Offset int64
}
