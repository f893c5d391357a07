package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dataset-export-service/internal/adapters/primary/http/dto"
	"dataset-export-service/internal/adapters/primary/http/middleware"
	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const cachedCopyBufferSize = 32 * 1024

func (h *Handler) DownloadVersion(c *gin.Context) {
	versionID, err := strconv.ParseInt(c.Param("version_id"), 10, 64)
	if err != nil || versionID <= 0 {
		mapDomainError(c, domain.ErrInvalidVersionID)
		return
	}

	plan, err := h.exportSvc.Prepare(c.Request.Context(), versionID, c.Query("format"))
	if err != nil {
		mapDomainError(c, err)
		return
	}
	h.serveExport(c, plan)
}

func (h *Handler) DownloadVersionByNumber(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("version_number"))
	if err != nil || number <= 0 {
		mapDomainError(c, domain.ErrVersionNotFound)
		return
	}

	plan, err := h.exportSvc.PrepareByNumber(c.Request.Context(), c.Param("project"), number, c.Query("format"))
	if err != nil {
		mapDomainError(c, err)
		return
	}
	h.serveExport(c, plan)
}

func (h *Handler) serveExport(c *gin.Context, plan *services.ExportPlan) {
	taskID := middleware.GetRequestID(c)
	if plan.Cached != nil && h.serveCached(c, plan, taskID) {
		return
	}
	h.streamBuild(c, plan, taskID)
}

// serveCached answers from the artifact cache. It reports false when the
// cached copy cannot be opened and the archive has to be rebuilt.
func (h *Handler) serveCached(c *gin.Context, plan *services.ExportPlan, taskID string) bool {
	ref := plan.Cached
	if ref.PublicURL != "" {
		c.JSON(http.StatusOK, dto.CachedArtifactResponse{URL: ref.PublicURL, Filename: plan.Filename, Cached: true})
		h.exportSvc.ServedFromCache(plan, taskID, 0)
		return true
	}

	rc, err := h.exportSvc.OpenCached(c.Request.Context(), plan)
	if err != nil {
		log.WithError(err).WithField("location", ref.Location).Warn("open cached artifact failed, rebuilding")
		return false
	}
	defer rc.Close()

	setArchiveHeaders(c, plan.Filename)
	if ref.SizeBytes > 0 {
		c.Header("Content-Length", strconv.FormatInt(ref.SizeBytes, 10))
	}
	c.Status(http.StatusOK)

	done := h.downloadStarted()
	defer done()

	n, err := io.CopyBuffer(c.Writer, rc, make([]byte, cachedCopyBufferSize))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"location": ref.Location, "bytes": n}).Warn("cached download interrupted")
		panic(http.ErrAbortHandler)
	}
	h.exportSvc.ServedFromCache(plan, taskID, n)
	return true
}

func (h *Handler) streamBuild(c *gin.Context, plan *services.ExportPlan, taskID string) {
	setArchiveHeaders(c, plan.Filename)
	c.Status(http.StatusOK)

	done := h.downloadStarted()
	defer done()

	w := &flushWriter{w: c.Writer}
	_, err := h.exportSvc.Stream(c.Request.Context(), plan, taskID, w)
	if err == nil {
		return
	}

	if errors.Is(c.Request.Context().Err(), context.Canceled) {
		c.Abort()
		return
	}
	if w.n == 0 {
		// Nothing reached the client yet, a regular error response is still possible.
		header := c.Writer.Header()
		header.Del("Content-Type")
		header.Del("Content-Disposition")
		mapDomainError(c, err)
		return
	}
	panic(http.ErrAbortHandler)
}

func setArchiveHeaders(c *gin.Context, filename string) {
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", contentDisposition(filename))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "no-store")
}

// contentDisposition quotes filename for the header and adds an RFC 5987
// form when it is not plain ASCII.
func contentDisposition(filename string) string {
	var b strings.Builder
	ascii := true
	for _, r := range filename {
		switch {
		case r == '"' || r == '\\' || r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case r > 0x7e:
			ascii = false
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	v := fmt.Sprintf("attachment; filename=%q", b.String())
	if !ascii {
		v += "; filename*=UTF-8''" + url.PathEscape(filename)
	}
	return v
}

// flushWriter pushes every write to the client so the response is sent as
// it is built.
type flushWriter struct {
	w gin.ResponseWriter
	n int64
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.n += int64(n)
	if err != nil {
		return n, err
	}
	f.w.Flush()
	return n, nil
}
