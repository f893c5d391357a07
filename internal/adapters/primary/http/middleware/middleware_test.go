package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeRecorder struct {
	requests []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	f.requests = append(f.requests, recordedRequest{method, route, statusCode})
}

func TestRequestID_Generated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/x", func(c *gin.Context) { seen = GetRequestID(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
}

func TestRequestID_Propagated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "task-42:a.b_c")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "task-42:a.b_c", w.Body.String())
	assert.Equal(t, "task-42:a.b_c", w.Header().Get(HeaderRequestID))
}

func TestRequestID_RejectsUnsafeValues(t *testing.T) {
	for _, id := range []string{"has space", "a/b", "<script>", strings.Repeat("a", 129)} {
		r := gin.New()
		r.Use(RequestID())
		r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(HeaderRequestID, id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.NotEqual(t, id, w.Body.String())
		_, err := uuid.Parse(w.Body.String())
		assert.NoError(t, err, "id %q", id)
	}
}

func TestLogging_RecordsRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	r := gin.New()
	r.Use(RequestID(), Logging(rec))
	r.GET("/versions/:version_id/download", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/versions/1/download", "/versions/2/download", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, rec.requests, 3)
	assert.Equal(t, recordedRequest{"GET", "/versions/:version_id/download", http.StatusNotFound}, rec.requests[0])
	assert.Equal(t, "/versions/:version_id/download", rec.requests[1].route)
	assert.Equal(t, recordedRequest{"GET", "unmatched", http.StatusNotFound}, rec.requests[2])
}

func TestRecovery_Returns500(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("nil map write") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail": "internal server error"}`, w.Body.String())
}

func TestRecovery_PropagatesAbortHandler(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/abort", func(c *gin.Context) { panic(http.ErrAbortHandler) })

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
	})
}
