package domain

import (
	"errors"
	"fmt"
)

// ============================================================================
// Lookup Errors
// ============================================================================

var (
	ErrVersionNotFound  = errors.New("version not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrProgressNotFound = errors.New("progress not found")
	ErrBlobNotFound     = errors.New("blob not found")
)

// ============================================================================
// Validation Errors
// ============================================================================

var (
	ErrInvalidVersionID   = errors.New("version id must be a positive integer")
	ErrUnsupportedFormat  = errors.New("unsupported annotation format (expected yolo, coco or custom)")
	ErrInvalidGeometry    = errors.New("annotation geometry is missing or malformed")
	ErrMissingClass       = errors.New("annotation class is missing for the requested format")
	ErrInvalidBlobKey     = errors.New("invalid blob key")
	ErrInvalidProgressKey = errors.New("task id is required")
)

// ============================================================================
// Build Errors
// ============================================================================

var (
	// ErrBuildFailed marks a fatal export failure. The build is deterministic so
	// callers may retry it.
	ErrBuildFailed = errors.New("archive build failed")

	// ErrCacheUnavailable is never surfaced to clients; exports fall back to
	// direct streaming.
	ErrCacheUnavailable = errors.New("artifact cache unavailable")
)

// SkipKind classifies a non-fatal entry failure.
type SkipKind string

const (
	SkipImage        SkipKind = "image"
	SkipAugmentation SkipKind = "augmentation"
	SkipAnnotation   SkipKind = "annotation"
	SkipDuplicate    SkipKind = "duplicate"
)

// EntrySkippedError records one entry that was left out of an archive.
type EntrySkippedError struct {
	Kind SkipKind
	Path string
	Err  error
}

func (e *EntrySkippedError) Error() string {
	return fmt.Sprintf("skipped %s %q: %v", e.Kind, e.Path, e.Err)
}

func (e *EntrySkippedError) Unwrap() error {
	return e.Err
}

// BuildFailed wraps cause so that errors.Is matches both ErrBuildFailed and cause.
func BuildFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrBuildFailed, cause)
}
