package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPendingTracker backs PendingTracker with one Redis key per PENDING
// consumer, keyed so every gateway instance in a multi-instance deployment
// can enumerate and count PENDING consumers for a stream regardless of
// which instance accepted the attach_consumer call. Unlike the teacher's
// hand-rolled RESP client in internal/server/redis_store.go (a single
// INCR/EXPIRE/TTL sequence for rate limiting), this goes through the real
// go-redis/v9 client already in go.mod, since nothing here needs the
// teacher's bespoke wire-protocol handling.
type RedisPendingTracker struct {
	client *redis.Client
}

// NewRedisPendingTracker wraps a go-redis client for use as a PendingTracker.
func NewRedisPendingTracker(client *redis.Client) *RedisPendingTracker {
	return &RedisPendingTracker{client: client}
}

func pendingKey(streamID, consumerID string) string {
	return fmt.Sprintf("bitriver:consumers:pending:%s:%s", streamID, consumerID)
}

// TrackPending records consumerID as PENDING on streamID until ttl elapses.
// The key's own expiry is the authority here — a crashed instance that
// never calls Untrack simply lets the key expire rather than leaking a
// permanently-inflated count.
func (t *RedisPendingTracker) TrackPending(ctx context.Context, streamID, consumerID string, ttl time.Duration) error {
	if err := t.client.Set(ctx, pendingKey(streamID, consumerID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("consumer: track pending in redis: %w", err)
	}
	return nil
}

// Untrack removes consumerID's PENDING key, called on both successful
// connect and any close path.
func (t *RedisPendingTracker) Untrack(ctx context.Context, streamID, consumerID string) error {
	if err := t.client.Del(ctx, pendingKey(streamID, consumerID)).Err(); err != nil {
		return fmt.Errorf("consumer: untrack pending in redis: %w", err)
	}
	return nil
}

// PendingCount reports how many consumers are currently PENDING on
// streamID across the fleet.
func (t *RedisPendingTracker) PendingCount(ctx context.Context, streamID string) (int64, error) {
	keys, err := t.client.Keys(ctx, fmt.Sprintf("bitriver:consumers:pending:%s:*", streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("consumer: count pending in redis: %w", err)
	}
	return int64(len(keys)), nil
}
