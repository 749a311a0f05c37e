package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"review-monitor/internal/domain"
)

// RedisDetectionQueue реализует очередь задач на базе Redis lists.
// Полученная задача лежит в списке processing до подтверждения.
type RedisDetectionQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.DetectionQueue = (*RedisDetectionQueue)(nil)

// NewRedisDetectionQueue создаёт очередь по указанному ключу.
func NewRedisDetectionQueue(client *redis.Client, key string) *RedisDetectionQueue {
	return &RedisDetectionQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDetectionQueue) Enqueue(ctx context.Context, job domain.DetectionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisDetectionQueue) Receive(ctx context.Context) (domain.DetectionJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DetectionJob{}, nil, err
		}

		payload, err := q.client.BRPopLPush(ctx, q.key, q.processing, time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DetectionJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DetectionJob{}, nil, err
		}
		var job domain.DetectionJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, payload).Err()
			return domain.DetectionJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ackFunc(payload), nil
	}
}

func (q *RedisDetectionQueue) ackFunc(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, payload)
		if !success {
			pipe.RPush(ctx, q.key, payload)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
}

// Recover возвращает в очередь задачи, оставшиеся неподтверждёнными после падения воркера.
func (q *RedisDetectionQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
