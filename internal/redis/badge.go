package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the pub/sub channel where badge invalidations are
// announced for external real-time layers.
const InvalidationChannel = "unread:invalidate"

// BadgeCache caches per-viewer unread aggregates so badge reads don't hit
// Postgres on every poll. Invalidations also publish on a pub/sub channel;
// the payload is data only, delivery to clients is someone else's problem.
type BadgeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBadgeCache(client *redis.Client, ttl time.Duration) *BadgeCache {
	return &BadgeCache{
		client: client,
		ttl:    ttl,
	}
}

type invalidationEvent struct {
	ViewerID   string `json:"viewer_id"`
	ViewerRole string `json:"viewer_role"`
}

func badgeKey(viewerID, viewerRole string) string {
	return fmt.Sprintf("badge:%s:%s", viewerRole, viewerID)
}

// Get returns the cached aggregate and whether it was present.
func (b *BadgeCache) Get(ctx context.Context, viewerID, viewerRole string) (int, bool, error) {
	val, err := b.client.Get(ctx, badgeKey(viewerID, viewerRole)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get badge: %w", err)
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt badge value %q: %w", val, err)
	}
	return n, true, nil
}

func (b *BadgeCache) Set(ctx context.Context, viewerID, viewerRole string, count int) error {
	if err := b.client.Set(ctx, badgeKey(viewerID, viewerRole), strconv.Itoa(count), b.ttl).Err(); err != nil {
		return fmt.Errorf("set badge: %w", err)
	}
	return nil
}

// Invalidate drops the cached value and announces the change.
func (b *BadgeCache) Invalidate(ctx context.Context, viewerID, viewerRole string) error {
	if err := b.client.Del(ctx, badgeKey(viewerID, viewerRole)).Err(); err != nil {
		return fmt.Errorf("invalidate badge: %w", err)
	}

	payload, err := json.Marshal(invalidationEvent{
		ViewerID:   viewerID,
		ViewerRole: viewerRole,
	})
	if err != nil {
		return fmt.Errorf("marshal invalidation event: %w", err)
	}

	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}
