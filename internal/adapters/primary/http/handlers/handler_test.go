package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"dataset-export-service/internal/adapters/primary/http/dto"
	"dataset-export-service/internal/adapters/primary/http/middleware"
	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
	"dataset-export-service/internal/core/services"
	"dataset-export-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	repo      *testutil.FakeSnapshotRepo
	media     *testutil.MemBlobStore
	artifacts *testutil.MemBlobStore
	tracker   *testutil.RecordingTracker
	downloads *countingTracker
	router    *gin.Engine
}

type countingTracker struct {
	mu      sync.Mutex
	started int
	active  int
}

func (c *countingTracker) DownloadStarted() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	c.active++
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.active--
	}
}

// failingPages fails every snapshot page after the first.
type failingPages struct {
	*testutil.FakeSnapshotRepo
}

func (f failingPages) ListVersionImages(ctx context.Context, versionID int64, afterID int64, limit int) ([]domain.VersionImage, error) {
	if afterID > 0 {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return f.FakeSnapshotRepo.ListVersionImages(ctx, versionID, afterID, limit)
}

func setupRouter(wrap func(*testutil.FakeSnapshotRepo) ports.SnapshotRepository, pageSize int) *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		repo:      testutil.NewFakeSnapshotRepo(),
		media:     testutil.NewMemBlobStore(),
		artifacts: testutil.NewMemBlobStore(),
		tracker:   testutil.NewRecordingTracker(),
		downloads: &countingTracker{},
	}
	var repo ports.SnapshotRepository = env.repo
	if wrap != nil {
		repo = wrap(env.repo)
	}

	progress := services.NewProgressService(env.tracker)
	exportSvc := services.NewExportService(
		services.NewSnapshotReader(repo, pageSize),
		services.NewArchiveBuilder(env.media, 0),
		services.NewArtifactCache(env.artifacts, repo),
		progress,
		nil,
	)

	h := New(exportSvc, progress, env.downloads)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery())
	h.RegisterRoutes(&r.RouterGroup)
	env.router = r
	return env
}

// seed adds version 7 of project "birds" with n images in mode "train".
func (e *testEnv) seed(n int, imageBytes func(i int) []byte) {
	e.repo.AddVersion(domain.Version{ID: 7, ProjectID: 1, ProjectName: "birds", VersionNumber: 2})
	for i := 1; i <= n; i++ {
		key := fmt.Sprintf("projects/1/img%d.jpg", i)
		e.repo.AddImage(7, domain.VersionImage{ID: int64(i), ProjectImageID: int64(i), Mode: "train", ImageKey: key})
		e.repo.AddAnnotation(domain.NewAnnotation(int64(i), int64(i), &domain.AnnotationClass{ClassID: 1, Name: "bird"}, []byte(`[0.1, 0.2, 0.5, 0.6]`), true))
		if imageBytes != nil {
			e.media.Put(key, imageBytes(i))
		}
	}
}

func smallImage(i int) []byte {
	return []byte(fmt.Sprintf("jpeg-%d", i))
}

func (e *testEnv) get(path, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func zipNames(t *testing.T, body []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ============================================================================
// Download
// ============================================================================

func TestDownloadVersion_NotFound(t *testing.T) {
	env := setupRouter(nil, 10)

	w := env.get("/versions/999/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeError(t, w).Detail, "not found")
}

func TestDownloadVersion_BadRequests(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(1, smallImage)

	w := env.get("/versions/7/download?format=pascal_voc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Detail, "unsupported annotation format")

	w = env.get("/versions/abc/download", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.get("/versions/0/download", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadVersion_Streams(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(2, smallImage)

	w := env.get("/versions/7/download?format=yolo", "task-123")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="birds.v2.yolo.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "task-123", w.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, []string{
		"train/images/img1.jpg", "train/labels/img1.txt",
		"train/images/img2.jpg", "train/labels/img2.txt",
	}, zipNames(t, w.Body.Bytes()))

	assert.Equal(t, 1, env.downloads.started)
	assert.Zero(t, env.downloads.active)

	p := env.get("/progress/task-123", "")
	require.Equal(t, http.StatusOK, p.Code)
	assert.JSONEq(t, `{"percentage": 100, "status": "archive complete", "isComplete": true}`, p.Body.String())
}

func TestDownloadVersion_DefaultsToYOLO(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(1, smallImage)

	w := env.get("/versions/7/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "birds.v2.yolo.zip")
}

func TestDownloadVersion_SecondDownloadServedFromCache(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(3, smallImage)

	first := env.get("/versions/7/download?format=coco", "first")
	require.Equal(t, http.StatusOK, first.Code)
	listed := env.repo.CallCount("ListVersionImages")

	second := env.get("/versions/7/download?format=coco", "second")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, fmt.Sprint(first.Body.Len()), second.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="birds.v2.coco.zip"`, second.Header().Get("Content-Disposition"))
	assert.Equal(t, listed, env.repo.CallCount("ListVersionImages"))

	assert.Zero(t, env.tracker.Starts("second"))
	p := env.get("/progress/second", "")
	assert.JSONEq(t, `{"percentage": 100, "status": "served from cache", "isComplete": true}`, p.Body.String())
}

func TestDownloadVersion_CachedPublicURL(t *testing.T) {
	env := setupRouter(nil, 10)
	env.artifacts.WithPublicBaseURL("https://cdn.example.com/exports")
	env.seed(1, smallImage)

	require.Equal(t, http.StatusOK, env.get("/versions/7/download", "").Code)

	w := env.get("/versions/7/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"url": "https://cdn.example.com/exports/versions/birds.v2.yolo.zip",
		"filename": "birds.v2.yolo.zip",
		"cached": true
	}`, w.Body.String())
}

func TestDownloadVersion_StalePointerRebuilds(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(1, smallImage)
	require.NoError(t, env.repo.SaveArtifact(context.Background(), &domain.Artifact{
		VersionID: 7, Format: domain.FormatYOLO, Location: "versions/deleted.zip",
	}))

	w := env.get("/versions/7/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, zipNames(t, w.Body.Bytes()), 2)
}

func TestDownloadVersion_BuildFailsBeforeFirstByte(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(2, nil)

	w := env.get("/versions/7/download", "doomed")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Empty(t, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "archive build failed, retry the download", decodeError(t, w).Detail)

	p := env.get("/progress/doomed", "")
	assert.JSONEq(t, `{"percentage": 100, "status": "failed", "isComplete": true}`, p.Body.String())
	assert.Empty(t, env.artifacts.Keys())
}

func TestDownloadVersion_MidStreamFailureClosesConnection(t *testing.T) {
	env := setupRouter(func(r *testutil.FakeSnapshotRepo) ports.SnapshotRepository {
		return failingPages{r}
	}, 1)
	noise := make([]byte, 256*1024)
	rand.New(rand.NewSource(1)).Read(noise)
	env.seed(2, func(int) []byte { return noise })

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/versions/7/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "a truncated archive must not end cleanly")
	_, zipErr := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	assert.Error(t, zipErr)
	assert.Empty(t, env.artifacts.Keys())
}

func TestDownloadVersionByNumber(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(1, smallImage)

	w := env.get("/projects/birds/versions/2/download?format=custom", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="birds.v2.custom.zip"`, w.Header().Get("Content-Disposition"))

	w = env.get("/projects/birds/versions/x/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.get("/projects/cats/versions/2/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="birds.v1.yolo.zip"`, contentDisposition("birds.v1.yolo.zip"))
	assert.Equal(t, `attachment; filename="a_b_.zip"`, contentDisposition(`a"b\.zip`))

	v := contentDisposition("oiseaux-été.v1.yolo.zip")
	assert.Contains(t, v, `filename="oiseaux-_t_.v1.yolo.zip"`)
	assert.Contains(t, v, "filename*=UTF-8''oiseaux-%C3%A9t%C3%A9.v1.yolo.zip")
}

// ============================================================================
// Progress
// ============================================================================

func TestGetProgress_NotFound(t *testing.T) {
	env := setupRouter(nil, 10)

	w := env.get("/progress/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeError(t, w).Detail, "not found")
}

func TestGetProgress_InFlight(t *testing.T) {
	env := setupRouter(nil, 10)
	require.NoError(t, env.tracker.Set(context.Background(), "job", 40, "building archive"))

	w := env.get("/progress/job", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ProgressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ProgressResponse{Percentage: 40, Status: "building archive"}, resp)
}

// ============================================================================
// Artifacts
// ============================================================================

func TestArtifactEndpoints(t *testing.T) {
	env := setupRouter(nil, 10)
	env.seed(1, smallImage)

	w := env.get("/versions/7/artifacts/yolo", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, env.get("/versions/7/download", "").Code)

	w = env.get("/versions/7/artifacts/yolo", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ArtifactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.VersionID)
	assert.Equal(t, "yolo", resp.Format)
	assert.Equal(t, "birds.v2.yolo.zip", resp.Filename)
	assert.Equal(t, "versions/birds.v2.yolo.zip", resp.Location)
	assert.Positive(t, resp.SizeBytes)

	del := httptest.NewRecorder()
	env.router.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/versions/7/artifacts/yolo", nil))
	assert.Equal(t, http.StatusNoContent, del.Code)
	assert.Empty(t, env.artifacts.Keys())

	del = httptest.NewRecorder()
	env.router.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/versions/7/artifacts/yolo", nil))
	assert.Equal(t, http.StatusNotFound, del.Code)
}

func TestArtifactEndpoints_BadInput(t *testing.T) {
	env := setupRouter(nil, 10)

	assert.Equal(t, http.StatusBadRequest, env.get("/versions/7/artifacts/voc", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.get("/versions/-3/artifacts/yolo", "").Code)
}

// ============================================================================
// Error mapping
// ============================================================================

func TestMapDomainError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		code int
	}{
		{domain.ErrVersionNotFound, http.StatusNotFound},
		{domain.ErrArtifactNotFound, http.StatusNotFound},
		{domain.ErrProgressNotFound, http.StatusNotFound},
		{domain.ErrInvalidVersionID, http.StatusBadRequest},
		{domain.ErrUnsupportedFormat, http.StatusBadRequest},
		{domain.ErrInvalidProgressKey, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", domain.ErrCacheUnavailable), http.StatusServiceUnavailable},
		{domain.BuildFailed(io.ErrUnexpectedEOF), http.StatusInternalServerError},
		{io.ErrClosedPipe, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		mapDomainError(c, tt.err)
		assert.Equal(t, tt.code, w.Code, tt.err.Error())
	}
}
