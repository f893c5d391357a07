package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const defaultSnapshotPageSize = 200

type SnapshotReader struct {
	repo     ports.SnapshotRepository
	pageSize int
}

func NewSnapshotReader(repo ports.SnapshotRepository, pageSize int) *SnapshotReader {
	if pageSize <= 0 {
		pageSize = defaultSnapshotPageSize
	}
	return &SnapshotReader{repo: repo, pageSize: pageSize}
}

// Resolve loads the version header. Entries are read lazily by the cursors
// returned from Snapshot.Entries.
func (r *SnapshotReader) Resolve(ctx context.Context, versionID int64) (*Snapshot, error) {
	if versionID <= 0 {
		return nil, domain.ErrInvalidVersionID
	}
	v, err := r.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{version: v, repo: r.repo, pageSize: r.pageSize}, nil
}

func (r *SnapshotReader) ResolveByNumber(ctx context.Context, projectName string, versionNumber int) (*Snapshot, error) {
	if strings.TrimSpace(projectName) == "" || versionNumber <= 0 {
		return nil, domain.ErrVersionNotFound
	}
	v, err := r.repo.GetVersionByNumber(ctx, projectName, versionNumber)
	if err != nil {
		return nil, err
	}
	return &Snapshot{version: v, repo: r.repo, pageSize: r.pageSize}, nil
}

// Snapshot is the immutable set of entries of one version.
type Snapshot struct {
	version  *domain.Version
	repo     ports.SnapshotRepository
	pageSize int
}

func (s *Snapshot) Version() *domain.Version {
	return s.version
}

func (s *Snapshot) Count(ctx context.Context) (int, error) {
	return s.repo.CountVersionImages(ctx, s.version.ID)
}

// Entries starts a new forward-only pass over the snapshot, ordered by
// version image id.
func (s *Snapshot) Entries() *SnapshotCursor {
	return &SnapshotCursor{snap: s}
}

// SnapshotCursor iterates a snapshot one page at a time.
//
//	cur := snap.Entries()
//	for cur.Next(ctx) {
//	    e := cur.Entry()
//	}
//	if err := cur.Err(); err != nil { ... }
type SnapshotCursor struct {
	snap   *Snapshot
	page   []domain.SnapshotEntry
	pos    int
	lastID int64
	done   bool
	err    error
	cur    domain.SnapshotEntry
}

func (c *SnapshotCursor) Next(ctx context.Context) bool {
	for {
		if c.err != nil {
			return false
		}
		if c.pos < len(c.page) {
			c.cur = c.page[c.pos]
			c.page[c.pos] = domain.SnapshotEntry{}
			c.pos++
			return true
		}
		if c.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return false
		}
	}
}

func (c *SnapshotCursor) Entry() domain.SnapshotEntry {
	return c.cur
}

func (c *SnapshotCursor) Err() error {
	return c.err
}

func (c *SnapshotCursor) fetch(ctx context.Context) error {
	s := c.snap
	rows, err := s.repo.ListVersionImages(ctx, s.version.ID, c.lastID, s.pageSize)
	if err != nil {
		return fmt.Errorf("list version images: %w", err)
	}
	if len(rows) < s.pageSize {
		c.done = true
	}
	c.page = c.page[:0]
	c.pos = 0
	if len(rows) == 0 {
		return nil
	}

	projectImageIDs := make([]int64, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	versionImageIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		versionImageIDs = append(versionImageIDs, row.ID)
		if _, ok := seen[row.ProjectImageID]; !ok {
			seen[row.ProjectImageID] = struct{}{}
			projectImageIDs = append(projectImageIDs, row.ProjectImageID)
		}
	}

	annotations, err := s.repo.ListActiveAnnotations(ctx, projectImageIDs)
	if err != nil {
		return fmt.Errorf("list annotations: %w", err)
	}
	augmentations, err := s.repo.ListAugmentations(ctx, versionImageIDs)
	if err != nil {
		return fmt.Errorf("list augmentations: %w", err)
	}

	for _, row := range rows {
		c.page = append(c.page, domain.SnapshotEntry{
			VersionImageID:    row.ID,
			ModePrefix:        modePrefix(row.Mode),
			ImageKey:          row.ImageKey,
			ImageDisplayName:  displayName(row.ImageKey, row.ImageName),
			ActiveAnnotations: activeOnly(annotations[row.ProjectImageID]),
			Augmentations:     augmentations[row.ID],
		})
	}
	c.lastID = rows[len(rows)-1].ID
	return nil
}

func modePrefix(mode string) string {
	mode = strings.Trim(strings.TrimSpace(mode), "/")
	if mode == "" {
		return domain.DefaultModePrefix
	}
	return mode
}

// displayName is the base name of the storage key, falling back to the image name.
func displayName(key, name string) string {
	if base := path.Base(key); key != "" && base != "." && base != "/" {
		return base
	}
	return path.Base(name)
}

// activeOnly guards against repositories that do not filter on is_active.
func activeOnly(anns []domain.Annotation) []domain.Annotation {
	out := anns[:0:0]
	for _, a := range anns {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}
