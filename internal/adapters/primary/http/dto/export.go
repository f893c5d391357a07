package dto

import (
	"path"
	"time"

	"dataset-export-service/internal/core/domain"
)

// ============================================================================
// Download DTOs
// ============================================================================

// CachedArtifactResponse points the client at an already built archive.
type CachedArtifactResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Cached   bool   `json:"cached"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ============================================================================
// Progress DTOs
// ============================================================================

type ProgressResponse struct {
	Percentage int    `json:"percentage"`
	Status     string `json:"status"`
	IsComplete bool   `json:"isComplete"`
}

func ToProgressResponse(p *domain.Progress) ProgressResponse {
	return ProgressResponse{
		Percentage: p.Percentage,
		Status:     p.Status,
		IsComplete: p.IsComplete,
	}
}

// ============================================================================
// Artifact DTOs
// ============================================================================

type ArtifactResponse struct {
	VersionID int64     `json:"version_id"`
	Format    string    `json:"format"`
	Filename  string    `json:"filename"`
	Location  string    `json:"location"`
	PublicURL string    `json:"public_url,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func ToArtifactResponse(a *domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		VersionID: a.VersionID,
		Format:    string(a.Format),
		Filename:  path.Base(a.Location),
		Location:  a.Location,
		PublicURL: a.PublicURL,
		SizeBytes: a.SizeBytes,
		CreatedAt: a.CreatedAt,
	}
}
