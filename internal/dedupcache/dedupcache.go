// Package dedupcache implements the Dedup Cache (C3): a Redis-backed
// fast-path check that lets the Ingestion Service avoid a round trip to the
// Store for idempotency checks that are overwhelmingly misses, plus the
// short-TTL locks the Scheduler takes (spec.md §4.1, §4.6).
package dedupcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with the narrow get/set/del/setnx surface the
// rest of the system needs. It is never the source of truth: every hit must
// still be confirmed against the Store before a Notification is treated as
// a duplicate (spec.md §4.1 step 2).
type Cache struct {
	client *redis.Client
}

// New connects to the Redis endpoint and verifies connectivity with PING.
func New(ctx context.Context, endpoint string) (*Cache, error) {
	opt, err := redis.ParseURL(endpoint)
	if err != nil {
		// Plain host:port endpoints (no redis:// scheme) are also accepted,
		// matching the cache.endpoint config key's documented format.
		opt = &redis.Options{Addr: endpoint}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to dedup cache: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Seen looks up idempotencyKey and returns the notification id stored
// against it. ok=false means the key is absent — not yet seen, or expired.
func (c *Cache) Seen(ctx context.Context, idempotencyKey string) (id string, ok bool, err error) {
	v, err := c.client.Get(ctx, key(idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dedup cache get: %w", err)
	}
	return v, true, nil
}

// MarkSeen records notificationID against idempotencyKey with the given TTL,
// so a subsequent Seen lookup within the window returns it without a Store
// round trip.
func (c *Cache) MarkSeen(ctx context.Context, idempotencyKey, notificationID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key(idempotencyKey), notificationID, ttl).Err(); err != nil {
		return fmt.Errorf("dedup cache set: %w", err)
	}
	return nil
}

// TryMarkSeen atomically records notificationID against idempotencyKey only
// if absent, returning false if another caller already claimed it first.
func (c *Cache) TryMarkSeen(ctx context.Context, idempotencyKey, notificationID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key(idempotencyKey), notificationID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup cache setnx: %w", err)
	}
	return ok, nil
}

// Forget removes idempotencyKey, undoing a MarkSeen or TryMarkSeen.
func (c *Cache) Forget(ctx context.Context, idempotencyKey string) error {
	if err := c.client.Del(ctx, key(idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("dedup cache del: %w", err)
	}
	return nil
}

// AcquireLock takes a short-lived distributed lock (SETNX under the hood),
// used by the Scheduler to ensure only one replica advances or republishes a
// given notification at a time (spec.md §4.6).
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "lock:"+name, "1", ttl).Result()
}

// ReleaseLock drops a lock acquired with AcquireLock.
func (c *Cache) ReleaseLock(ctx context.Context, name string) error {
	return c.client.Del(ctx, "lock:"+name).Err()
}

func key(idempotencyKey string) string {
	return "idem:" + idempotencyKey
}
