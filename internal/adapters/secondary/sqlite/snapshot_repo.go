package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

//go:embed schema.sql
var schema string

// Open opens a sqlite database. An in-memory database lives on a single
// connection, so the pool is capped at one.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

type snapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) ports.SnapshotRepository {
	return &snapshotRepo{db: db}
}

const selectVersion = `
	SELECT v.id, v.project_id, p.name, v.version_number, v.created_at
	FROM version v
	JOIN project p ON p.id = v.project_id
`

func (r *snapshotRepo) GetVersion(ctx context.Context, versionID int64) (*domain.Version, error) {
	v, err := scanVersion(r.db.QueryRowContext(ctx, selectVersion+` WHERE v.id = ?`, versionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (r *snapshotRepo) GetVersionByNumber(ctx context.Context, projectName string, versionNumber int) (*domain.Version, error) {
	query := selectVersion + ` WHERE p.name = ? AND v.version_number = ?`
	v, err := scanVersion(r.db.QueryRowContext(ctx, query, projectName, versionNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get version by number: %w", err)
	}
	return v, nil
}

func (r *snapshotRepo) CountVersionImages(ctx context.Context, versionID int64) (int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM version_image WHERE version_id = ?`, versionID).Scan(&total); err != nil {
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
		WHERE vi.version_id = ? AND vi.id > ?
		ORDER BY vi.id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, versionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list version images: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

	in, args := inClause(projectImageIDs)
	query := `
		SELECT a.id, a.project_image_id, c.class_id, c.name, a.data, a.is_active
		FROM annotation a
		LEFT JOIN annotation_class c ON c.id = a.annotation_class_id
		WHERE a.project_image_id IN (` + in + `) AND a.is_active = 1
		ORDER BY a.project_image_id, a.id
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id, projectImageID int64
			classID            sql.NullInt64
			className          sql.NullString
			data               sql.NullString
			active             bool
		)
		if err := rows.Scan(&id, &projectImageID, &classID, &className, &data, &active); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		var class *domain.AnnotationClass
		if classID.Valid {
			class = &domain.AnnotationClass{ClassID: int(classID.Int64), Name: className.String}
		}
		out[projectImageID] = append(out[projectImageID], domain.NewAnnotation(id, projectImageID, class, []byte(data.String), active))
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

	in, args := inClause(versionImageIDs)
	query := `
		SELECT id, version_image_id, COALESCE(augmented_image_file, ''), augmented_annotation
		FROM augmentation
		WHERE version_image_id IN (` + in + `)
		ORDER BY version_image_id, id
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list augmentations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id, versionImageID int64
			key                string
			data               sql.NullString
		)
		if err := rows.Scan(&id, &versionImageID, &key, &data); err != nil {
			return nil, fmt.Errorf("scan augmentation row: %w", err)
		}
		out[versionImageID] = append(out[versionImageID], domain.NewAugmentation(id, versionImageID, key, []byte(data.String)))
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
		WHERE version_id = ? AND format = ?
	`
	a := &domain.Artifact{}
	var f, createdAt string
	err := r.db.QueryRowContext(ctx, query, versionID, string(format)).Scan(
		&a.VersionID, &f, &a.Location, &a.PublicURL, &a.SizeBytes, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	a.Format = domain.ExportFormat(f)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

func (r *snapshotRepo) SaveArtifact(ctx context.Context, a *domain.Artifact) error {
	query := `
		INSERT INTO version_artifact (version_id, format, location, public_url, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (version_id, format) DO UPDATE
		SET location = excluded.location, public_url = excluded.public_url,
			size_bytes = excluded.size_bytes, created_at = excluded.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		a.VersionID, string(a.Format), a.Location, a.PublicURL, a.SizeBytes, FormatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (r *snapshotRepo) DeleteArtifact(ctx context.Context, versionID int64, format domain.ExportFormat) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM version_artifact WHERE version_id = ? AND format = ?`, versionID, string(format))
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n == 0 {
		return domain.ErrArtifactNotFound
	}
	return nil
}

func (r *snapshotRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanVersion(row *sql.Row) (*domain.Version, error) {
	v := &domain.Version{}
	var createdAt string
	if err := row.Scan(&v.ID, &v.ProjectID, &v.ProjectName, &v.VersionNumber, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = t
	return v, nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

// FormatTime is the text encoding of timestamp columns.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
