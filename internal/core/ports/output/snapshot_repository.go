package ports

import (
	"context"

	"dataset-export-service/internal/core/domain"
)

// SnapshotRepository is the read side of the relational snapshot plus the
// artifact pointer, the only table this service writes.
type SnapshotRepository interface {
	GetVersion(ctx context.Context, versionID int64) (*domain.Version, error)
	GetVersionByNumber(ctx context.Context, projectName string, versionNumber int) (*domain.Version, error)
	CountVersionImages(ctx context.Context, versionID int64) (int, error)

	// ListVersionImages returns up to limit rows with id > afterID, ordered by id.
	ListVersionImages(ctx context.Context, versionID int64, afterID int64, limit int) ([]domain.VersionImage, error)
	// ListActiveAnnotations returns active annotations keyed by project image id, ordered by annotation id.
	ListActiveAnnotations(ctx context.Context, projectImageIDs []int64) (map[int64][]domain.Annotation, error)
	// ListAugmentations returns augmentations keyed by version image id, ordered by augmentation id.
	ListAugmentations(ctx context.Context, versionImageIDs []int64) (map[int64][]domain.Augmentation, error)

	GetArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) (*domain.Artifact, error)
	SaveArtifact(ctx context.Context, artifact *domain.Artifact) error
	DeleteArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) error

	Ping(ctx context.Context) error
}
