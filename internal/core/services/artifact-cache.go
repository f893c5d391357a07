package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

// ArtifactCache stores built archives keyed by (version, format). Concurrent
// builds of the same key both write and the last commit wins; their contents
// are identical because builds are deterministic.
type ArtifactCache struct {
	store ports.BlobStore
	repo  ports.SnapshotRepository
}

func NewArtifactCache(store ports.BlobStore, repo ports.SnapshotRepository) *ArtifactCache {
	return &ArtifactCache{store: store, repo: repo}
}

// Lookup returns nil, nil on a miss. A pointer whose blob is gone is a miss.
// Errors are wrapped in ErrCacheUnavailable.
func (c *ArtifactCache) Lookup(ctx context.Context, v *domain.Version, format domain.ExportFormat) (*domain.ArtifactRef, error) {
	a, err := c.repo.GetArtifact(ctx, v.ID, format)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}

	exists, err := c.store.Exists(ctx, a.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}
	if !exists {
		log.WithFields(log.Fields{
			"version_id": v.ID,
			"format":     format,
			"location":   a.Location,
		}).Warn("artifact pointer is stale, rebuilding")
		return nil, nil
	}

	return &domain.ArtifactRef{Artifact: *a, LocalPath: c.store.LocalPath(a.Location)}, nil
}

// Get returns the recorded artifact without checking the blob.
func (c *ArtifactCache) Get(ctx context.Context, versionID int64, format domain.ExportFormat) (*domain.Artifact, error) {
	return c.repo.GetArtifact(ctx, versionID, format)
}

func (c *ArtifactCache) Open(ctx context.Context, ref *domain.ArtifactRef) (io.ReadCloser, error) {
	return c.store.OpenRead(ctx, ref.Location)
}

// Begin opens an uncommitted artifact. Nothing is visible to Lookup until
// Commit succeeds.
func (c *ArtifactCache) Begin(ctx context.Context, v *domain.Version, format domain.ExportFormat) (*PendingArtifact, error) {
	key := domain.ArtifactKey(v, format)
	w, err := c.store.OpenWrite(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}
	return &PendingArtifact{cache: c, key: key, version: v, format: format, w: w}, nil
}

// Invalidate deletes the pointer first so that no lookup can hit while the
// blob is being removed.
func (c *ArtifactCache) Invalidate(ctx context.Context, versionID int64, format domain.ExportFormat) error {
	a, err := c.repo.GetArtifact(ctx, versionID, format)
	if err != nil {
		return err
	}
	if err := c.repo.DeleteArtifact(ctx, versionID, format); err != nil {
		return fmt.Errorf("delete artifact pointer: %w", err)
	}
	if err := c.store.Remove(ctx, a.Location); err != nil && !errors.Is(err, domain.ErrBlobNotFound) {
		return fmt.Errorf("remove artifact blob: %w", err)
	}
	log.WithFields(log.Fields{"version_id": versionID, "format": format, "location": a.Location}).Info("artifact invalidated")
	return nil
}

// PendingArtifact is a best-effort writer: a failing cache write disables the
// copy but never fails the caller's stream.
type PendingArtifact struct {
	cache   *ArtifactCache
	key     string
	version *domain.Version
	format  domain.ExportFormat
	w       ports.BlobWriter
	err     error
	done    bool
}

func (p *PendingArtifact) Write(b []byte) (int, error) {
	if p.err != nil || p.done {
		return len(b), nil
	}
	if _, err := p.w.Write(b); err != nil {
		p.err = err
		log.WithError(err).WithField("key", p.key).Warn("artifact cache write failed, continuing without cache")
	}
	return len(b), nil
}

func (p *PendingArtifact) Err() error {
	return p.err
}

// Commit finalizes the blob and records the pointer.
func (p *PendingArtifact) Commit(ctx context.Context) (*domain.Artifact, error) {
	if p.done {
		return nil, fmt.Errorf("%w: artifact already finished", domain.ErrCacheUnavailable)
	}
	if p.err != nil {
		p.Abort()
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, p.err)
	}
	p.done = true

	size, err := p.w.Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCacheUnavailable, err)
	}

	a := &domain.Artifact{
		VersionID: p.version.ID,
		Format:    p.format,
		Location:  p.key,
		PublicURL: p.cache.store.PublicURL(p.key),
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.cache.repo.SaveArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("%w: save artifact pointer: %w", domain.ErrCacheUnavailable, err)
	}
	return a, nil
}

// Abort discards the uncommitted blob. It is safe to call more than once.
func (p *PendingArtifact) Abort() {
	if p.done {
		return
	}
	p.done = true
	if err := p.w.Abort(); err != nil {
		log.WithError(err).WithField("key", p.key).Warn("discard pending artifact failed")
	}
}
