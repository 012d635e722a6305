package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// PriorityQueue dispatches items to one of four buffered channels based on
// priority. In the original teacher design this was the durable work queue
// between HTTP ingestion and the workers; the Message Log now plays that
// role (spec.md §4.1, §4.3). Here it is repurposed as the intra-window
// reordering buffer a Delivery Worker uses to dispatch its prefetched batch
// of Kafka messages in priority order before committing their offsets
// (spec.md §4.4, §5).
//
// Buffer sizes reflect expected traffic ratios within one prefetch window:
//
//	Urgent: 256  — must never accumulate; small buffer applies back-pressure quickly
//	High:   512
//	Medium: 2000 — bulk of traffic
//	Low:    1000 — background / best-effort
//
// Workers dequeue via the priority-ordered select pattern below, which
// guarantees that urgent items are always served before high, high before
// medium, and so on, while still allowing fair competition within a tier.
type PriorityQueue struct {
	urgent chan Item
	high   chan Item
	medium chan Item
	low    chan Item
}

func New() *PriorityQueue {
	return &PriorityQueue{
		urgent: make(chan Item, 256),
		high:   make(chan Item, 512),
		medium: make(chan Item, 2000),
		low:    make(chan Item, 1000),
	}
}

// Enqueue places an item on the channel matching its priority.
// It is non-blocking: if the target channel is full, ErrQueueFull is returned
// immediately rather than blocking the caller.
func (q *PriorityQueue) Enqueue(item Item) error {
	var ch chan Item
	switch item.Priority {
	case domain.PriorityUrgent:
		ch = q.urgent
	case domain.PriorityHigh:
		ch = q.high
	case domain.PriorityMedium:
		ch = q.medium
	case domain.PriorityLow:
		ch = q.low
	default:
		return fmt.Errorf("unknown priority %q", item.Priority)
	}

	select {
	case ch <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// Priority guarantee: each higher tier is drained with a non-blocking check
// before falling through to the next, so urgent never waits behind high,
// high never waits behind medium, and so on. Only once every tier is found
// empty does the goroutine enter a fair blocking select across all four
// channels plus the done signal, which prevents starvation of the lower
// tiers while still letting the worker sleep instead of spinning.
//
// Returns (Item{}, false) when ctx is cancelled (graceful shutdown signal or,
// for the repurposed intra-window use, "this window is fully drained").
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.urgent:
		return item, true
	default:
	}
	select {
	case item := <-q.high:
		return item, true
	default:
	}
	select {
	case item := <-q.medium:
		return item, true
	default:
	}
	select {
	case item := <-q.low:
		return item, true
	default:
	}

	select {
	case item := <-q.urgent:
		return item, true
	case item := <-q.high:
		return item, true
	case item := <-q.medium:
		return item, true
	case item := <-q.low:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each priority tier.
func (q *PriorityQueue) Depths() (urgent, high, medium, low int) {
	return len(q.urgent), len(q.high), len(q.medium), len(q.low)
}

// Empty reports whether every tier is currently drained, used by a Delivery
// Worker to know its prefetch window has been fully dispatched.
func (q *PriorityQueue) Empty() bool {
	return len(q.urgent) == 0 && len(q.high) == 0 && len(q.medium) == 0 && len(q.low) == 0
}
