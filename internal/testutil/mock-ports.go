package testutil

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

// MockSnapshotRepo is a mock of SnapshotRepository.
type MockSnapshotRepo struct {
	mock.Mock
}

var _ ports.SnapshotRepository = (*MockSnapshotRepo)(nil)

func (m *MockSnapshotRepo) GetVersion(ctx context.Context, versionID int64) (*domain.Version, error) {
	args := m.Called(ctx, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Version), args.Error(1)
}

func (m *MockSnapshotRepo) GetVersionByNumber(ctx context.Context, projectName string, versionNumber int) (*domain.Version, error) {
	args := m.Called(ctx, projectName, versionNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Version), args.Error(1)
}

func (m *MockSnapshotRepo) CountVersionImages(ctx context.Context, versionID int64) (int, error) {
	args := m.Called(ctx, versionID)
	return args.Int(0), args.Error(1)
}

func (m *MockSnapshotRepo) ListVersionImages(ctx context.Context, versionID int64, afterID int64, limit int) ([]domain.VersionImage, error) {
	args := m.Called(ctx, versionID, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VersionImage), args.Error(1)
}

func (m *MockSnapshotRepo) ListActiveAnnotations(ctx context.Context, projectImageIDs []int64) (map[int64][]domain.Annotation, error) {
	args := m.Called(ctx, projectImageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64][]domain.Annotation), args.Error(1)
}

func (m *MockSnapshotRepo) ListAugmentations(ctx context.Context, versionImageIDs []int64) (map[int64][]domain.Augmentation, error) {
	args := m.Called(ctx, versionImageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64][]domain.Augmentation), args.Error(1)
}

func (m *MockSnapshotRepo) GetArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) (*domain.Artifact, error) {
	args := m.Called(ctx, versionID, format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Artifact), args.Error(1)
}

func (m *MockSnapshotRepo) SaveArtifact(ctx context.Context, artifact *domain.Artifact) error {
	args := m.Called(ctx, artifact)
	return args.Error(0)
}

func (m *MockSnapshotRepo) DeleteArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) error {
	args := m.Called(ctx, versionID, format)
	return args.Error(0)
}

func (m *MockSnapshotRepo) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBlobStore is a mock of BlobStore.
type MockBlobStore struct {
	mock.Mock
}

var _ ports.BlobStore = (*MockBlobStore)(nil)

func (m *MockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBlobStore) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockBlobStore) OpenWrite(ctx context.Context, key string) (ports.BlobWriter, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.BlobWriter), args.Error(1)
}

func (m *MockBlobStore) Remove(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBlobStore) LocalPath(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockBlobStore) PublicURL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// MockProgressTracker is a mock of ProgressTracker.
type MockProgressTracker struct {
	mock.Mock
}

var _ ports.ProgressTracker = (*MockProgressTracker)(nil)

func (m *MockProgressTracker) Set(ctx context.Context, taskID string, percentage int, status string) error {
	args := m.Called(ctx, taskID, percentage, status)
	return args.Error(0)
}

func (m *MockProgressTracker) Get(ctx context.Context, taskID string) (*domain.Progress, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Progress), args.Error(1)
}

// MockExportMetrics is a mock of ExportMetrics.
type MockExportMetrics struct {
	mock.Mock
}

var _ ports.ExportMetrics = (*MockExportMetrics)(nil)

func (m *MockExportMetrics) RecordBuild(format domain.ExportFormat, status string, duration time.Duration) {
	m.Called(format, status, duration)
}

func (m *MockExportMetrics) RecordSkip(format domain.ExportFormat, kind domain.SkipKind) {
	m.Called(format, kind)
}

func (m *MockExportMetrics) RecordCacheLookup(result string) {
	m.Called(result)
}

func (m *MockExportMetrics) RecordBytesStreamed(format domain.ExportFormat, source string, n int64) {
	m.Called(format, source, n)
}
