package handlers

import (
	"errors"
	"net/http"

	"dataset-export-service/internal/adapters/primary/http/dto"
	"dataset-export-service/internal/core/domain"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func mapDomainError(c *gin.Context, err error) {
	switch {
	// Not found errors
	case errors.Is(err, domain.ErrVersionNotFound),
		errors.Is(err, domain.ErrArtifactNotFound),
		errors.Is(err, domain.ErrProgressNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Detail: err.Error()})

	// Bad request / validation errors
	case errors.Is(err, domain.ErrInvalidVersionID),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrInvalidProgressKey):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Detail: err.Error()})

	// Service unavailable errors
	case errors.Is(err, domain.ErrCacheUnavailable):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Detail: domain.ErrCacheUnavailable.Error()})

	case errors.Is(err, domain.ErrBuildFailed):
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Detail: domain.ErrBuildFailed.Error() + ", retry the download"})

	default:
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("unhandled error")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Detail: "internal server error"})
	}
}
