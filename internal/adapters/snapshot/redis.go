package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

// DefaultRedisKey: ключ снимка по умолчанию.
const DefaultRedisKey = "review-monitor:cache:snapshot"

// Redis хранит снимок одним значением.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis создаёт хранилище снимка в Redis.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Load реализует domain.SnapshotStore.
func (r *Redis) Load(ctx context.Context) (domain.CacheSnapshot, error) {
	start := time.Now()
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "snapshot_get", r.key, start, nil)
		return domain.CacheSnapshot{}, domain.ErrSnapshotNotFound
	}
	metrics.ObserveNetworkRequest("redis", "snapshot_get", r.key, start, err)
	if err != nil {
		return domain.CacheSnapshot{}, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

// Save реализует domain.SnapshotStore.
func (r *Redis) Save(ctx context.Context, snap domain.CacheSnapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	start := time.Now()
	err = r.client.Set(ctx, r.key, data, 0).Err()
	metrics.ObserveNetworkRequest("redis", "snapshot_set", r.key, start, err)
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
