package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const redisKeyPrefix = "export:progress:"

// RedisTracker shares progress between replicas. Each update rewrites the
// JSON document and refreshes its TTL.
type RedisTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisTracker(client redis.UniversalClient, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

var _ ports.ProgressTracker = (*RedisTracker)(nil)

func (t *RedisTracker) Set(ctx context.Context, taskID string, percentage int, status string) error {
	if taskID == "" {
		return domain.ErrInvalidProgressKey
	}
	payload, err := json.Marshal(domain.NewProgress(percentage, status))
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := t.client.Set(ctx, redisKeyPrefix+taskID, payload, t.ttl).Err(); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, taskID string) (*domain.Progress, error) {
	if taskID == "" {
		return nil, domain.ErrInvalidProgressKey
	}
	payload, err := t.client.Get(ctx, redisKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	var p domain.Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}
