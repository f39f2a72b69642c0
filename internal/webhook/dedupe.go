package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL matches the longest retry horizon of the supported vendors.
const DefaultDedupeTTL = 24 * time.Hour

// Deduper remembers delivery ids so retried deliveries skip the pipeline. It is advisory:
// replays that slip through are still absorbed by the matcher.
type Deduper interface {
	// MarkSeen records the delivery and reports whether it was already recorded.
	MarkSeen(ctx context.Context, vendor, deliveryID string) (bool, error)
	// Forget clears a delivery so a retry is processed again.
	Forget(ctx context.Context, vendor, deliveryID string) error
}

// RedisDeduper stores delivery markers with SETNX and a TTL.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) key(vendor, deliveryID string) string {
	return d.prefix + ":webhook:" + vendor + ":" + deliveryID
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, vendor, deliveryID string) (bool, error) {
	created, err := d.client.SetNX(ctx, d.key(vendor, deliveryID), time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, vendor, deliveryID string) error {
	return d.client.Del(ctx, d.key(vendor, deliveryID)).Err()
}
