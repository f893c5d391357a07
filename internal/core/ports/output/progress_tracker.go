package ports

import (
	"context"

	"dataset-export-service/internal/core/domain"
)

// ProgressTracker is a TTL-bounded key/value side channel polled by clients.
type ProgressTracker interface {
	Set(ctx context.Context, taskID string, percentage int, status string) error
	Get(ctx context.Context, taskID string) (*domain.Progress, error)
}
