package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

type snapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepository(pool *pgxpool.Pool) ports.SnapshotRepository {
	return &snapshotRepo{pool: pool}
}

const selectVersion = `
	SELECT v.id, v.project_id, p.name, v.version_number, v.created_at
	FROM version v
	JOIN project p ON p.id = v.project_id
`

func (r *snapshotRepo) GetVersion(ctx context.Context, versionID int64) (*domain.Version, error) {
	v, err := scanVersion(r.pool.QueryRow(ctx, selectVersion+` WHERE v.id = $1`, versionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (r *snapshotRepo) GetVersionByNumber(ctx context.Context, projectName string, versionNumber int) (*domain.Version, error) {
	query := selectVersion + ` WHERE p.name = $1 AND v.version_number = $2`
	v, err := scanVersion(r.pool.QueryRow(ctx, query, projectName, versionNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get version by number: %w", err)
	}
	return v, nil
}

func (r *snapshotRepo) CountVersionImages(ctx context.Context, versionID int64) (int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM version_image WHERE version_id = $1`, versionID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count version images: %w", err)
	}
	return total, nil
}

func (r *snapshotRepo) ListVersionImages(ctx context.Context, versionID int64, afterID int64, limit int) ([]domain.VersionImage, error) {
	query := `
		SELECT vi.id, vi.project_image_id, COALESCE(m.mode, ''),
			   COALESCE(i.image_name, ''), COALESCE(i.image_file, '')
		FROM version_image vi
		JOIN project_image pi ON pi.id = vi.project_image_id
		JOIN image i ON i.id = pi.image_id
		LEFT JOIN image_mode m ON m.id = pi.mode_id
		WHERE vi.version_id = $1 AND vi.id > $2
		ORDER BY vi.id
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, versionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list version images: %w", err)
	}
	defer rows.Close()

	images := make([]domain.VersionImage, 0, limit)
	for rows.Next() {
		var vi domain.VersionImage
		if err := rows.Scan(&vi.ID, &vi.ProjectImageID, &vi.Mode, &vi.ImageName, &vi.ImageKey); err != nil {
			return nil, fmt.Errorf("scan version image row: %w", err)
		}
		images = append(images, vi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version image rows: %w", err)
	}
	return images, nil
}

func (r *snapshotRepo) ListActiveAnnotations(ctx context.Context, projectImageIDs []int64) (map[int64][]domain.Annotation, error) {
	out := make(map[int64][]domain.Annotation, len(projectImageIDs))
	if len(projectImageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT a.id, a.project_image_id, c.class_id, c.name, a.data, a.is_active
		FROM annotation a
		LEFT JOIN annotation_class c ON c.id = a.annotation_class_id
		WHERE a.project_image_id = ANY($1) AND a.is_active
		ORDER BY a.project_image_id, a.id
	`
	rows, err := r.pool.Query(ctx, query, projectImageIDs)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, projectImageID int64
			classID            *int
			className          *string
			data               []byte
			active             bool
		)
		if err := rows.Scan(&id, &projectImageID, &classID, &className, &data, &active); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		out[projectImageID] = append(out[projectImageID], domain.NewAnnotation(id, projectImageID, annotationClass(classID, className), data, active))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation rows: %w", err)
	}
	return out, nil
}

func (r *snapshotRepo) ListAugmentations(ctx context.Context, versionImageIDs []int64) (map[int64][]domain.Augmentation, error) {
	out := make(map[int64][]domain.Augmentation, len(versionImageIDs))
	if len(versionImageIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, version_image_id, COALESCE(augmented_image_file, ''), augmented_annotation
		FROM augmentation
		WHERE version_image_id = ANY($1)
		ORDER BY version_image_id, id
	`
	rows, err := r.pool.Query(ctx, query, versionImageIDs)
	if err != nil {
		return nil, fmt.Errorf("list augmentations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, versionImageID int64
			key                string
			data               []byte
		)
		if err := rows.Scan(&id, &versionImageID, &key, &data); err != nil {
			return nil, fmt.Errorf("scan augmentation row: %w", err)
		}
		out[versionImageID] = append(out[versionImageID], domain.NewAugmentation(id, versionImageID, key, data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate augmentation rows: %w", err)
	}
	return out, nil
}

func (r *snapshotRepo) GetArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) (*domain.Artifact, error) {
	query := `
		SELECT version_id, format, location, COALESCE(public_url, ''), size_bytes, created_at
		FROM version_artifact
		WHERE version_id = $1 AND format = $2
	`
	a := &domain.Artifact{}
	var f string
	err := r.pool.QueryRow(ctx, query, versionID, string(format)).Scan(
		&a.VersionID, &f, &a.Location, &a.PublicURL, &a.SizeBytes, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	a.Format = domain.ExportFormat(f)
	return a, nil
}

func (r *snapshotRepo) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	query := `
		INSERT INTO version_artifact (version_id, format, location, public_url, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (version_id, format) DO UPDATE
		SET location = EXCLUDED.location, public_url = EXCLUDED.public_url,
			size_bytes = EXCLUDED.size_bytes, created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query, a.VersionID, string(a.Format), a.Location, a.PublicURL, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (r *snapshotRepo) DeleteArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM version_artifact WHERE version_id = $1 AND format = $2`, versionID, string(format))
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrArtifactNotFound
	}
	return nil
}

func (r *snapshotRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanVersion(row pgx.Row) (*domain.Version, error) {
	v := &domain.Version{}
	if err := row.Scan(&v.ID, &v.ProjectID, &v.ProjectName, &v.VersionNumber, &v.CreatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

func annotationClass(classID *int, name *string) *domain.AnnotationClass {
	if classID == nil {
		return nil
	}
	c := &domain.AnnotationClass{ClassID: *classID}
	if name != nil {
		c.Name = *name
	}
	return c
}
