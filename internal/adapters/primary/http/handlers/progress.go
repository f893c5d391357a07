package handlers

import (
	"net/http"

	"dataset-export-service/internal/adapters/primary/http/dto"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetProgress(c *gin.Context) {
	p, err := h.progressSvc.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		mapDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToProgressResponse(p))
}
