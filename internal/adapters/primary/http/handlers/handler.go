package handlers

import (
	"dataset-export-service/internal/core/services"

	"github.com/gin-gonic/gin"
)

// DownloadTracker counts in-flight streaming downloads.
type DownloadTracker interface {
	DownloadStarted() func()
}

type Handler struct {
	exportSvc   *services.ExportService
	progressSvc *services.ProgressService
	downloads   DownloadTracker
}

// New builds the HTTP handlers. downloads may be nil.
func New(exportSvc *services.ExportService, progressSvc *services.ProgressService, downloads DownloadTracker) *Handler {
	return &Handler{
		exportSvc:   exportSvc,
		progressSvc: progressSvc,
		downloads:   downloads,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Downloads
	r.GET("/versions/:version_id/download", h.DownloadVersion)
	r.GET("/projects/:project/versions/:version_number/download", h.DownloadVersionByNumber)

	// Progress
	r.GET("/progress/:task_id", h.GetProgress)

	// Cached artifacts
	r.GET("/versions/:version_id/artifacts/:format", h.GetArtifact)
	r.DELETE("/versions/:version_id/artifacts/:format", h.DeleteArtifact)
}

func (h *Handler) downloadStarted() func() {
	if h.downloads == nil {
		return func() {}
	}
	return h.downloads.DownloadStarted()
}
