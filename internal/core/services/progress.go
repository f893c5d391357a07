package services

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const (
	defaultProgressTimeout = 2 * time.Second
	cacheStageSuffix       = ":cache"
)

// CacheStageID is the task id under which the cache-persist stage of an
// export is tracked.
func CacheStageID(taskID string) string {
	if taskID == "" {
		return ""
	}
	return taskID + cacheStageSuffix
}

// ProgressService reports export progress. Updates are fire-and-forget: a
// slow or broken tracker never fails or stalls a build for longer than the
// update timeout.
type ProgressService struct {
	tracker ports.ProgressTracker
	timeout time.Duration
}

func NewProgressService(tracker ports.ProgressTracker) *ProgressService {
	return &ProgressService{tracker: tracker, timeout: defaultProgressTimeout}
}

func (s *ProgressService) Get(ctx context.Context, taskID string) (*domain.Progress, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, domain.ErrInvalidProgressKey
	}
	if s == nil || s.tracker == nil {
		return nil, domain.ErrProgressNotFound
	}
	return s.tracker.Get(ctx, taskID)
}

func (s *ProgressService) Report(taskID string, percentage int, status string) {
	if s == nil || s.tracker == nil || taskID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.tracker.Set(ctx, taskID, percentage, status); err != nil {
		log.WithError(err).WithField("task_id", taskID).Debug("progress update dropped")
	}
}

// Func binds Report to one task id.
func (s *ProgressService) Func(taskID string) ProgressFunc {
	return func(percentage int, status string) {
		s.Report(taskID, percentage, status)
	}
}
