package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/api/handler"
	"github.com/cuongbtq/jobpulse/internal/notify"
	"github.com/cuongbtq/jobpulse/shared/logger"
)

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := notify.NewRegistry(time.Second, logger.NewDiscard())
	t.Cleanup(registry.Close)

	return SetupRouter(&handler.Dependencies{
		Logger:      logger.NewDiscard(),
		Registry:    registry,
		SweepSecret: "s3cret",
	}, opts)
}

func serve(r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, Options{ServiceName: "jobpulse-api-test"})

	w := serve(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "jobpulse-api-test", body["service"])
	assert.Equal(t, float64(0), body["live_users"])
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(t, Options{MetricsPath: "/metrics"})
	w := serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	r = newTestRouter(t, Options{})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics").Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, Options{})
	w := serve(r, http.MethodOptions, "/api/v1/jobs")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSweepRouteRequiresSecret(t *testing.T) {
	r := newTestRouter(t, Options{})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/v1/internal/sweep").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/internal/sweep?secret=nope").Code)
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "", redactSecret(""))
	assert.Equal(t, "user_id=u1", redactSecret("user_id=u1"))
	assert.Equal(t, "secret=REDACTED&user_id=u1", redactSecret("user_id=u1&secret=s3cret"))
}
