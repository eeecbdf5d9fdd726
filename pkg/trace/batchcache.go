package trace

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const batchKeyPrefix = "trace:batch:"

// RedisBatchCache keeps batch-to-patient correlation in redis with a TTL a
// little longer than the lookup service's worst-case turnaround.
type RedisBatchCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBatchCache(client *redis.Client, ttl time.Duration) *RedisBatchCache {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisBatchCache{client: client, ttl: ttl}
}

func (c *RedisBatchCache) RememberBatch(ctx context.Context, batchID string, patientIDs []string) error {
	payload, err := json.Marshal(patientIDs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, batchKeyPrefix+batchID, payload, c.ttl).Err()
}

// BatchPatients returns the cached membership of a batch, or nil when the
// batch is unknown or expired.
func (c *RedisBatchCache) BatchPatients(ctx context.Context, batchID string) ([]string, error) {
	payload, err := c.client.Get(ctx, batchKeyPrefix+batchID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
