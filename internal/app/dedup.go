/**
 * @description
 * This file provides the recently-processed guard placed in front of webhook
 * dispatch. Payment providers redeliver events, and while every handler write
 * is an idempotent keyed upsert, skipping a recently-seen event id avoids the
 * repeated database work entirely.
 *
 * Two implementations exist with the same interface: a Redis-backed guard for
 * deployments with multiple replicas, and an in-memory guard used when no
 * REDIS_URL is configured.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduplicator reports whether a provider event id was already processed
// recently. MarkSeen failures must not block processing; callers treat the
// guard as best effort.
type EventDeduplicator interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// RedisEventDeduplicator tracks processed event ids in Redis with a TTL, so
// the guard is shared across replicas.
type RedisEventDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisEventDeduplicator creates a Redis-backed deduplicator.
func NewRedisEventDeduplicator(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduplicator {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "bookin:webhook_events"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisEventDeduplicator{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (d *RedisEventDeduplicator) key(eventID string) string {
	return fmt.Sprintf("%s:%s", d.prefix, eventID)
}

func (d *RedisEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.client == nil || eventID == "" {
		return false, nil
	}
	count, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *RedisEventDeduplicator) MarkSeen(ctx context.Context, eventID string) error {
	if d == nil || d.client == nil || eventID == "" {
		return nil
	}
	return d.client.Set(ctx, d.key(eventID), "1", d.ttl).Err()
}

// MemoryEventDeduplicator is the single-process fallback. Expired entries are
// swept lazily on each MarkSeen.
type MemoryEventDeduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryEventDeduplicator creates an in-memory deduplicator.
func NewMemoryEventDeduplicator(ttl time.Duration) *MemoryEventDeduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryEventDeduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (d *MemoryEventDeduplicator) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

func (d *MemoryEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	expiry, ok := d.seen[eventID]
	if !ok {
		return false, nil
	}
	if d.now().After(expiry) {
		delete(d.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (d *MemoryEventDeduplicator) MarkSeen(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
		}
	}
	d.seen[eventID] = now.Add(d.ttl)
	return nil
}
