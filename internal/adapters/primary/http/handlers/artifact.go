package handlers

import (
	"net/http"
	"strconv"

	"dataset-export-service/internal/adapters/primary/http/dto"
	"dataset-export-service/internal/core/domain"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) GetArtifact(c *gin.Context) {
	versionID, err := strconv.ParseInt(c.Param("version_id"), 10, 64)
	if err != nil || versionID <= 0 {
		mapDomainError(c, domain.ErrInvalidVersionID)
		return
	}

	a, err := h.exportSvc.Artifact(c.Request.Context(), versionID, c.Param("format"))
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToArtifactResponse(a))
}

func (h *Handler) DeleteArtifact(c *gin.Context) {
	versionID, err := strconv.ParseInt(c.Param("version_id"), 10, 64)
	if err != nil || versionID <= 0 {
		mapDomainError(c, domain.ErrInvalidVersionID)
		return
	}

	if err := h.exportSvc.InvalidateArtifact(c.Request.Context(), versionID, c.Param("format")); err != nil {
		log.WithError(err).WithField("version_id", versionID).Warn("delete artifact failed")
		mapDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
