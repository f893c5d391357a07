package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/testutil"
)

func TestProgressService_Get(t *testing.T) {
	tracker := testutil.NewRecordingTracker()
	svc := NewProgressService(tracker)

	svc.Report("abc", 40, "building archive")
	p, err := svc.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 40, p.Percentage)
	assert.False(t, p.IsComplete)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)

	_, err = svc.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidProgressKey)
}

func TestProgressService_ReportSwallowsErrors(t *testing.T) {
	tracker := new(testutil.MockProgressTracker)
	tracker.On("Set", mock.Anything, "abc", 10, "x").Return(errors.New("redis down"))
	svc := NewProgressService(tracker)

	assert.NotPanics(t, func() { svc.Report("abc", 10, "x") })
	tracker.AssertExpectations(t)
}

func TestProgressService_IgnoresEmptyTask(t *testing.T) {
	tracker := new(testutil.MockProgressTracker)
	svc := NewProgressService(tracker)

	svc.Report("", 10, "x")
	tracker.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProgressService_NilTracker(t *testing.T) {
	svc := NewProgressService(nil)
	assert.NotPanics(t, func() { svc.Func("abc")(50, "x") })

	_, err := svc.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrProgressNotFound)
}

func TestProgressService_Func(t *testing.T) {
	tracker := testutil.NewRecordingTracker()
	fn := NewProgressService(tracker).Func("job")

	fn(0, "start")
	fn(100, "done")
	assert.Equal(t, []testutil.ProgressEvent{
		{TaskID: "job", Percentage: 0, Status: "start"},
		{TaskID: "job", Percentage: 100, Status: "done"},
	}, tracker.Events("job"))
	assert.Equal(t, 1, tracker.Starts("job"))
}

func TestCacheStageID(t *testing.T) {
	assert.Equal(t, "abc:cache", CacheStageID("abc"))
	assert.Empty(t, CacheStageID(""))
}
