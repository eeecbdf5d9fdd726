package verification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const processedKeyPrefix = "verify:trace:"

// RedisReplayGuard marks processed trace ids in redis. Entries expire after
// the TTL; by then a redelivery is covered by the store's monotone
// transitions anyway.
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) Seen(ctx context.Context, traceID string) (bool, error) {
	n, err := g.client.Exists(ctx, processedKeyPrefix+traceID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisReplayGuard) Record(ctx context.Context, traceID string) error {
	return g.client.Set(ctx, processedKeyPrefix+traceID, time.Now().UTC().Format(time.RFC3339), g.ttl).Err()
}
