package services

import (
	"context"
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const (
	buildStatusSuccess = "success"
	buildStatusFailed  = "failed"

	cacheResultHit   = "hit"
	cacheResultMiss  = "miss"
	cacheResultError = "error"
)

// ExportPlan is a resolved download request.
type ExportPlan struct {
	Snapshot *Snapshot
	Format   domain.ExportFormat
	Filename string
	// Cached is set when a committed artifact can be served instead of a build.
	Cached *domain.ArtifactRef
}

func (p *ExportPlan) Version() *domain.Version {
	return p.Snapshot.Version()
}

// ExportService ties the snapshot reader, archive builder, artifact cache and
// progress tracker into the download flow.
type ExportService struct {
	reader   *SnapshotReader
	builder  *ArchiveBuilder
	cache    *ArtifactCache
	progress *ProgressService
	metrics  ports.ExportMetrics
}

// NewExportService wires the export flow. cache and metrics may be nil.
func NewExportService(reader *SnapshotReader, builder *ArchiveBuilder, cache *ArtifactCache, progress *ProgressService, metrics ports.ExportMetrics) *ExportService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ExportService{
		reader:   reader,
		builder:  builder,
		cache:    cache,
		progress: progress,
		metrics:  metrics,
	}
}

func (s *ExportService) Prepare(ctx context.Context, versionID int64, rawFormat string) (*ExportPlan, error) {
	format, err := domain.ParseExportFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	snap, err := s.reader.Resolve(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return s.plan(ctx, snap, format), nil
}

func (s *ExportService) PrepareByNumber(ctx context.Context, projectName string, versionNumber int, rawFormat string) (*ExportPlan, error) {
	format, err := domain.ParseExportFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	snap, err := s.reader.ResolveByNumber(ctx, projectName, versionNumber)
	if err != nil {
		return nil, err
	}
	return s.plan(ctx, snap, format), nil
}

func (s *ExportService) plan(ctx context.Context, snap *Snapshot, format domain.ExportFormat) *ExportPlan {
	v := snap.Version()
	plan := &ExportPlan{Snapshot: snap, Format: format, Filename: v.ArchiveName(format)}
	if s.cache == nil {
		return plan
	}

	ref, err := s.cache.Lookup(ctx, v, format)
	switch {
	case err != nil:
		s.metrics.RecordCacheLookup(cacheResultError)
		log.WithError(err).WithFields(log.Fields{"version_id": v.ID, "format": format}).Warn("artifact cache lookup failed, rebuilding")
	case ref != nil:
		s.metrics.RecordCacheLookup(cacheResultHit)
		plan.Cached = ref
	default:
		s.metrics.RecordCacheLookup(cacheResultMiss)
	}
	return plan
}

// OpenCached opens the cached archive of plan for streaming.
func (s *ExportService) OpenCached(ctx context.Context, plan *ExportPlan) (io.ReadCloser, error) {
	if plan.Cached == nil || s.cache == nil {
		return nil, domain.ErrArtifactNotFound
	}
	return s.cache.Open(ctx, plan.Cached)
}

// ServedFromCache marks the task of a cache hit as complete.
func (s *ExportService) ServedFromCache(plan *ExportPlan, taskID string, n int64) {
	s.progress.Report(taskID, 100, "served from cache")
	s.metrics.RecordBytesStreamed(plan.Format, "cache", n)
}

// Stream builds the archive of plan into w and, when a cache is configured,
// persists a copy. Cache failures are logged and never fail the stream.
func (s *ExportService) Stream(ctx context.Context, plan *ExportPlan, taskID string, w io.Writer) (*domain.BuildReport, error) {
	v := plan.Version()
	logger := log.WithFields(log.Fields{"version_id": v.ID, "format": plan.Format, "task_id": taskID})
	logger.Info("export started")

	var pending *PendingArtifact
	if s.cache != nil {
		p, err := s.cache.Begin(ctx, v, plan.Format)
		if err != nil {
			logger.WithError(err).Warn("artifact cache unavailable, streaming without cache")
		} else {
			pending = p
		}
	}

	sink := w
	if pending != nil {
		sink = io.MultiWriter(w, pending)
	}

	start := time.Now()
	report, err := s.builder.Build(ctx, plan.Snapshot, plan.Format, sink, s.progress.Func(taskID))
	if report != nil {
		for _, skip := range report.Skipped {
			s.metrics.RecordSkip(plan.Format, skip.Kind)
		}
	}
	if err != nil {
		if pending != nil {
			pending.Abort()
		}
		s.metrics.RecordBuild(plan.Format, buildStatusFailed, time.Since(start))
		s.progress.Report(taskID, 100, "failed")
		if errors.Is(err, context.Canceled) {
			logger.Info("export cancelled by client")
		} else {
			logger.WithError(err).Error("export failed")
		}
		return report, err
	}

	s.metrics.RecordBuild(plan.Format, buildStatusSuccess, time.Since(start))
	s.metrics.RecordBytesStreamed(plan.Format, "build", report.BytesWritten)

	if pending != nil {
		// The client already has every byte; finish the cache copy even if it disconnects now.
		s.persist(context.WithoutCancel(ctx), taskID, pending, logger)
	}
	return report, nil
}

func (s *ExportService) persist(ctx context.Context, taskID string, pending *PendingArtifact, logger *log.Entry) {
	stage := CacheStageID(taskID)
	s.progress.Report(stage, 0, "saving artifact")

	a, err := pending.Commit(ctx)
	if err != nil {
		logger.WithError(err).Warn("artifact not cached")
		s.progress.Report(stage, 100, "artifact not cached")
		return
	}

	logger.WithFields(log.Fields{"location": a.Location, "size_bytes": a.SizeBytes}).Info("artifact cached")
	s.progress.Report(stage, 100, "artifact saved")
}

// Artifact returns the recorded artifact of (version, format).
func (s *ExportService) Artifact(ctx context.Context, versionID int64, rawFormat string) (*domain.Artifact, error) {
	format, err := domain.ParseExportFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return nil, domain.ErrArtifactNotFound
	}
	return s.cache.Get(ctx, versionID, format)
}

// InvalidateArtifact removes the cached archive of (version, format).
func (s *ExportService) InvalidateArtifact(ctx context.Context, versionID int64, rawFormat string) error {
	format, err := domain.ParseExportFormat(rawFormat)
	if err != nil {
		return err
	}
	if s.cache == nil {
		return domain.ErrArtifactNotFound
	}
	return s.cache.Invalidate(ctx, versionID, format)
}

type noopMetrics struct{}

func (noopMetrics) RecordBuild(domain.ExportFormat, string, time.Duration) {}
func (noopMetrics) RecordSkip(domain.ExportFormat, domain.SkipKind)        {}
func (noopMetrics) RecordCacheLookup(string)                               {}
func (noopMetrics) RecordBytesStreamed(domain.ExportFormat, string, int64) {}
