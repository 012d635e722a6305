package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/event-driven-arch/internal/domain"
	"github.com/notifyhub/event-driven-arch/internal/queue"
)

func item(id string, p domain.Priority) queue.Item {
	return queue.Item{NotificationID: id, Channel: domain.ChannelSMS, Priority: p}
}

func TestPriorityQueue_BasicEnqueueDequeue(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	if err := q.Enqueue(item("1", domain.PriorityMedium)); err != nil {
		t.Fatal(err)
	}

	got, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("expected item, got nothing")
	}
	if got.NotificationID != "1" {
		t.Fatalf("expected id=1, got %s", got.NotificationID)
	}
}

// TestPriorityQueue_UrgentBeforeLowerTiers verifies that an urgent item
// inserted after lower-priority items is still served first.
func TestPriorityQueue_UrgentBeforeLowerTiers(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	_ = q.Enqueue(item("low", domain.PriorityLow))
	_ = q.Enqueue(item("medium", domain.PriorityMedium))
	_ = q.Enqueue(item("high", domain.PriorityHigh))
	_ = q.Enqueue(item("urgent", domain.PriorityUrgent))

	first, _ := q.Dequeue(ctx)
	if first.NotificationID != "urgent" {
		t.Fatalf("expected urgent to be dequeued first, got %q", first.NotificationID)
	}

	second, _ := q.Dequeue(ctx)
	if second.NotificationID != "high" {
		t.Fatalf("expected high to be dequeued second, got %q", second.NotificationID)
	}
}

// TestPriorityQueue_ContextCancellation verifies Dequeue returns (_, false)
// when the context is cancelled while blocking.
func TestPriorityQueue_ContextCancellation(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}

// TestPriorityQueue_ErrQueueFull verifies the non-blocking Enqueue returns
// ErrQueueFull once a tier's channel is saturated.
func TestPriorityQueue_ErrQueueFull(t *testing.T) {
	q := queue.New()

	if err := q.Enqueue(item("x", domain.PriorityLow)); err != nil {
		t.Fatalf("unexpected error on empty queue: %v", err)
	}

	for i := 0; i < 1000; i++ {
		_ = q.Enqueue(item("fill", domain.PriorityLow))
	}
	if err := q.Enqueue(item("overflow", domain.PriorityLow)); err != domain.ErrQueueFull {
		t.Fatalf("expected ErrQueueFull once low tier is saturated, got %v", err)
	}
}

// TestPriorityQueue_ConcurrentEnqueueDequeue verifies there are no races
// when multiple goroutines enqueue and dequeue simultaneously.
func TestPriorityQueue_ConcurrentEnqueueDequeue(t *testing.T) {
	q := queue.New()

	const producers = 5
	const itemsPerProducer = 100
	const total = producers * itemsPerProducer

	received := make(chan struct{}, total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		for {
			_, ok := q.Dequeue(ctx)
			if !ok {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itemsPerProducer; j++ {
				_ = q.Enqueue(item("id", domain.PriorityMedium))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d items", i, total)
		}
	}
	cancel()
	consumerDone.Wait()
}

func TestPriorityQueue_Depths(t *testing.T) {
	q := queue.New()

	_ = q.Enqueue(item("u", domain.PriorityUrgent))
	_ = q.Enqueue(item("h", domain.PriorityHigh))
	_ = q.Enqueue(item("m1", domain.PriorityMedium))
	_ = q.Enqueue(item("m2", domain.PriorityMedium))
	_ = q.Enqueue(item("l", domain.PriorityLow))

	urgent, high, medium, low := q.Depths()
	if urgent != 1 || high != 1 || medium != 2 || low != 1 {
		t.Fatalf("unexpected depths: urgent=%d high=%d medium=%d low=%d", urgent, high, medium, low)
	}
}

func TestPriorityQueue_Empty(t *testing.T) {
	q := queue.New()
	if !q.Empty() {
		t.Fatal("expected new queue to be empty")
	}
	_ = q.Enqueue(item("x", domain.PriorityLow))
	if q.Empty() {
		t.Fatal("expected queue with an item to be non-empty")
	}
}
