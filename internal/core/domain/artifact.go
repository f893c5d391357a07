package domain

import (
	"path"
	"time"
)

// ArtifactKeyPrefix is the folder holding cached archives in the artifact store.
const ArtifactKeyPrefix = "versions"

// ArtifactKey is the blob key of the cached archive for (version, format).
func ArtifactKey(v *Version, format ExportFormat) string {
	return path.Join(ArtifactKeyPrefix, v.ArchiveName(format))
}

// Artifact is the persisted pointer to a cached export.
type Artifact struct {
	VersionID int64        `json:"version_id"`
	Format    ExportFormat `json:"format"`
	Location  string       `json:"location"`
	PublicURL string       `json:"public_url,omitempty"`
	SizeBytes int64        `json:"size_bytes"`
	CreatedAt time.Time    `json:"created_at"`
}

// ArtifactRef is a cache hit ready to be served.
type ArtifactRef struct {
	Artifact
	// LocalPath is set when the artifact store is a local filesystem.
	LocalPath string
}

// Progress is the polled state of a long running export.
type Progress struct {
	Percentage int    `json:"percentage"`
	Status     string `json:"status"`
	IsComplete bool   `json:"isComplete"`
}

func NewProgress(percentage int, status string) Progress {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return Progress{Percentage: percentage, Status: status, IsComplete: percentage >= 100}
}

// BuildReport summarises one archive build.
type BuildReport struct {
	VersionID            int64
	Format               ExportFormat
	EntriesWritten       int
	EntriesSkipped       int
	AugmentationsWritten int
	AugmentationsSkipped int
	AnnotationsSkipped   int
	BytesWritten         int64
	Skipped              []*EntrySkippedError
	Duration             time.Duration
}

// Attempted is the number of image entries the build tried to write.
func (r *BuildReport) Attempted() int {
	return r.EntriesWritten + r.EntriesSkipped + r.AugmentationsWritten + r.AugmentationsSkipped
}

// Written is the number of image entries present in the archive.
func (r *BuildReport) Written() int {
	return r.EntriesWritten + r.AugmentationsWritten
}
