package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const defaultChunkSize = 8 * 1024

// ProgressFunc receives coarse build milestones. It must not block.
type ProgressFunc func(percentage int, status string)

// ArchiveBuilder streams a version snapshot into a zip archive, one entry at a
// time. Memory use is bounded by one snapshot page and one copy buffer.
type ArchiveBuilder struct {
	blobs     ports.BlobStore
	chunkSize int
}

func NewArchiveBuilder(blobs ports.BlobStore, chunkSize int) *ArchiveBuilder {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &ArchiveBuilder{blobs: blobs, chunkSize: chunkSize}
}

// Build writes the archive of snap to sink. Per-entry failures are recorded in
// the report and do not abort the build, unless a blob fails after part of it
// was already written. The central directory is written only
// after every entry was processed, so a failed build never leaves a valid zip.
func (b *ArchiveBuilder) Build(ctx context.Context, snap *Snapshot, format domain.ExportFormat, sink io.Writer, progress ProgressFunc) (*domain.BuildReport, error) {
	start := time.Now()
	v := snap.Version()
	report := &domain.BuildReport{VersionID: v.ID, Format: format}
	logger := log.WithFields(log.Fields{"version_id": v.ID, "format": format})

	if progress == nil {
		progress = func(int, string) {}
	}
	progress(0, "building archive")

	total, err := snap.Count(ctx)
	if err != nil {
		logger.WithError(err).Warn("count version images failed, progress will be coarse")
		total = 0
	}

	out := &sinkWriter{w: sink}
	zw := zip.NewWriter(out)
	ew := &entryWriter{
		zw:       zw,
		out:      out,
		buf:      make([]byte, b.chunkSize),
		modified: v.CreatedAt,
		names:    make(map[string]struct{}),
	}

	cur := snap.Entries()
	processed, lastReported := 0, 0
	for cur.Next(ctx) {
		b.writeEntry(ctx, ew, cur.Entry(), format, report, logger)
		if out.err != nil {
			return report, domain.BuildFailed(fmt.Errorf("write to sink: %w", out.err))
		}
		if ew.partial != nil {
			return report, domain.BuildFailed(ew.partial)
		}
		if err := ctx.Err(); err != nil {
			return report, domain.BuildFailed(err)
		}

		processed++
		if total > 0 {
			pct := min(processed*100/total, 99)
			if pct-lastReported >= 10 {
				lastReported = pct
				progress(pct, "building archive")
			}
		}
	}
	if err := cur.Err(); err != nil {
		return report, domain.BuildFailed(fmt.Errorf("read snapshot: %w", err))
	}

	if report.Attempted() > 0 && report.Written() == 0 {
		return report, domain.BuildFailed(fmt.Errorf("all %d entries were skipped", report.Attempted()))
	}

	if err := zw.Close(); err != nil {
		return report, domain.BuildFailed(fmt.Errorf("finalize archive: %w", err))
	}

	report.BytesWritten = out.n
	report.Duration = time.Since(start)
	progress(100, "archive complete")

	logger.WithFields(log.Fields{
		"entries_written":       report.EntriesWritten,
		"entries_skipped":       report.EntriesSkipped,
		"augmentations_written": report.AugmentationsWritten,
		"augmentations_skipped": report.AugmentationsSkipped,
		"annotations_skipped":   report.AnnotationsSkipped,
		"bytes":                 report.BytesWritten,
		"duration_ms":           report.Duration.Milliseconds(),
	}).Info("archive built")

	return report, nil
}

func (b *ArchiveBuilder) writeEntry(ctx context.Context, ew *entryWriter, e domain.SnapshotEntry, format domain.ExportFormat, report *domain.BuildReport, logger *log.Entry) {
	imagePath, labelPath := entryPaths(e.ModePrefix, e.ImageDisplayName)

	if err := b.writePair(ctx, ew, e.ImageKey, imagePath, labelPath, func() (string, []error) {
		return FormatAnnotations(e.ActiveAnnotations, format)
	}, report, logger); err != nil {
		if ew.failed() {
			return
		}
		report.EntriesSkipped++
		recordSkip(report, skipKind(err, domain.SkipImage), imagePath, err, logger)
	} else {
		report.EntriesWritten++
	}

	for _, aug := range e.Augmentations {
		if ew.failed() || ctx.Err() != nil {
			return
		}
		augImage, augLabel := entryPaths(e.ModePrefix, displayName(aug.ImageKey, ""))
		if err := b.writePair(ctx, ew, aug.ImageKey, augImage, augLabel, func() (string, []error) {
			return FormatAugmentation(aug, format)
		}, report, logger); err != nil {
			if ew.failed() {
				return
			}
			report.AugmentationsSkipped++
			recordSkip(report, skipKind(err, domain.SkipAugmentation), augImage, err, logger)
			continue
		}
		report.AugmentationsWritten++
	}
}

// writePair writes one image entry followed by its label entry. The label is
// written even when empty so image and label counts stay aligned.
func (b *ArchiveBuilder) writePair(ctx context.Context, ew *entryWriter, key, imagePath, labelPath string, labels func() (string, []error), report *domain.BuildReport, logger *log.Entry) error {
	if err := ew.reserve(imagePath, labelPath); err != nil {
		return err
	}

	if err := ew.copyBlob(ctx, b.blobs, key, imagePath); err != nil {
		return err
	}

	text, skipped := labels()
	for _, err := range skipped {
		report.AnnotationsSkipped++
		recordSkip(report, domain.SkipAnnotation, labelPath, err, logger)
	}
	return ew.writeText(labelPath, text)
}

func recordSkip(report *domain.BuildReport, kind domain.SkipKind, entryPath string, err error, logger *log.Entry) {
	skip := &domain.EntrySkippedError{Kind: kind, Path: entryPath, Err: err}
	report.Skipped = append(report.Skipped, skip)
	logger.WithError(err).WithFields(log.Fields{"kind": kind, "path": entryPath}).Warn("archive entry skipped")
}

func skipKind(err error, fallback domain.SkipKind) domain.SkipKind {
	if errors.Is(err, errDuplicateEntry) {
		return domain.SkipDuplicate
	}
	return fallback
}

func entryPaths(prefix, name string) (imagePath, labelPath string) {
	stem := strings.TrimSuffix(name, path.Ext(name))
	return path.Join(prefix, "images", name), path.Join(prefix, "labels", stem+".txt")
}

var (
	errUnsafeEntryName = errors.New("entry name escapes the archive root")
	errDuplicateEntry  = errors.New("duplicate archive path")
	errPartialEntry    = errors.New("archive entry is incomplete")
)

// entryWriter owns the zip writer of one build. Entries are opened, written
// and closed strictly one at a time.
type entryWriter struct {
	zw       *zip.Writer
	out      *sinkWriter
	buf      []byte
	modified time.Time
	names    map[string]struct{}
	// partial is set once a blob read fails after its entry was started.
	partial error
}

func (w *entryWriter) failed() bool {
	return w.out.err != nil || w.partial != nil
}

// reserve claims archive paths so that two entries never share a name.
func (w *entryWriter) reserve(names ...string) error {
	for _, name := range names {
		if name == "" || path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("%w: %q", errUnsafeEntryName, name)
		}
		if _, ok := w.names[name]; ok {
			return fmt.Errorf("%w: %q", errDuplicateEntry, name)
		}
	}
	for _, name := range names {
		w.names[name] = struct{}{}
	}
	return nil
}

func (w *entryWriter) create(name string) (io.Writer, error) {
	return w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.modified,
	})
}

// copyBlob copies key into a new entry in fixed-size chunks. The first chunk
// is read before the entry is created so that missing or unreadable blobs
// leave no trace in the archive. A read failure after that point marks the
// writer as failed.
func (w *entryWriter) copyBlob(ctx context.Context, blobs ports.BlobStore, key, name string) error {
	if key == "" {
		return domain.ErrBlobNotFound
	}
	rc, err := blobs.OpenRead(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	src := &ctxReader{ctx: ctx, r: rc}
	n, err := io.ReadFull(src, w.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	full := n == len(w.buf)

	dst, err := w.create(name)
	if err != nil {
		return err
	}
	if _, err := dst.Write(w.buf[:n]); err != nil {
		return err
	}
	if !full {
		return nil
	}
	if _, err := io.CopyBuffer(dst, src, w.buf); err != nil {
		w.partial = fmt.Errorf("%w: %q: %w", errPartialEntry, name, err)
		return w.partial
	}
	return nil
}

func (w *entryWriter) writeText(name, text string) error {
	dst, err := w.create(name)
	if err != nil {
		return err
	}
	_, err = io.WriteString(dst, text)
	return err
}

// sinkWriter remembers the first write error of the sink so that it can be
// told apart from blob read errors.
type sinkWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.w.Write(p)
	s.n += int64(n)
	if err != nil {
		s.err = err
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}
	return r.r.Read(p)
}
