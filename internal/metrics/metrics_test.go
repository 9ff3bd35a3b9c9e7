package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSweep(t *testing.T) {
	before := testutil.ToFloat64(sweepJobs.WithLabelValues("ai", "retried"))

	ObserveSweep(" AI ", 3, 1, 2, 0, 150*time.Millisecond, false)

	assert.Equal(t, before+3, testutil.ToFloat64(sweepJobs.WithLabelValues("ai", "retried")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(sweepRuns.WithLabelValues("ai", "ok")), 1.0)
}

func TestConnectionGauge(t *testing.T) {
	start := testutil.ToFloat64(liveConnections)

	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()

	assert.Equal(t, start+1, testutil.ToFloat64(liveConnections))
}

func TestIncSubmitted_UnknownPriority(t *testing.T) {
	IncSubmitted("summarization", 9)
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsSubmitted.WithLabelValues("summarization", "unknown")))
}

func TestHandler(t *testing.T) {
	MustRegister()
	MustRegister()

	IncRelay("relayed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jobpulse_relay_messages_total")
}
