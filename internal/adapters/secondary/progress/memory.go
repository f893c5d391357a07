package progress

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const DefaultTTL = time.Hour

// MemoryTracker keeps progress in process. Entries expire after the TTL.
type MemoryTracker struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryTracker{cache: cache.New(ttl, ttl*2), ttl: ttl}
}

var _ ports.ProgressTracker = (*MemoryTracker)(nil)

func (t *MemoryTracker) Set(ctx context.Context, taskID string, percentage int, status string) error {
	if taskID == "" {
		return domain.ErrInvalidProgressKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.cache.Set(taskID, domain.NewProgress(percentage, status), t.ttl)
	return nil
}

func (t *MemoryTracker) Get(ctx context.Context, taskID string) (*domain.Progress, error) {
	if taskID == "" {
		return nil, domain.ErrInvalidProgressKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := t.cache.Get(taskID)
	if !ok {
		return nil, domain.ErrProgressNotFound
	}
	p := v.(domain.Progress)
	return &p, nil
}
