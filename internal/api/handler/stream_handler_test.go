package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

func readFrame(t *testing.T, r *bufio.Reader) domain.Frame {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var f domain.Frame
	require.NoError(t, json.Unmarshal(line, &f))
	return f
}

func TestStream_NDJSON(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?userId=user-1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readFrame(t, r)
	assert.Equal(t, domain.EventConnected, first.Type)
	assert.Equal(t, fixedNow.UnixMilli(), first.Timestamp)
	assert.Equal(t, 1, h.deps.Registry.Count("user-1"))

	delivered := h.deps.Registry.Broadcast("user-1", domain.NewProgressUpdate("user-1", "job-1", 55, fixedNow))
	assert.Equal(t, 1, delivered)

	f := readFrame(t, r)
	assert.Equal(t, domain.EventJobProgress, f.Type)
	assert.Equal(t, "job-1", f.JobID)
	require.NotNil(t, f.Progress)
	assert.Equal(t, 55, *f.Progress)

	// client disconnect tears the connection out of the registry
	cancel()
	assert.Eventually(t, func() bool {
		return h.deps.Registry.Count("user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_Heartbeat(t *testing.T) {
	h := newHarness(t)
	h.deps.Stream.HeartbeatInterval = 20 * time.Millisecond
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/events?user_id=user-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, domain.EventConnected, readFrame(t, r).Type)
	assert.Equal(t, domain.EventHeartbeat, readFrame(t, r).Type)
}

func TestStream_RequiresUser(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/api/v1/events", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "userId is required")
}

func TestStream_UserIDAlias(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	for _, query := range []string{"userId=user-1", "user_id=user-1"} {
		t.Run(query, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?"+query, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, domain.EventConnected, readFrame(t, bufio.NewReader(resp.Body)).Type)
			assert.Equal(t, 1, h.deps.Registry.Count("user-1"))

			cancel()
			assert.Eventually(t, func() bool {
				return h.deps.Registry.Count("user-1") == 0
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestStream_RegistryClosed(t *testing.T) {
	h := newHarness(t)
	h.deps.Registry.Close()

	w := h.do(http.MethodGet, "/api/v1/events?user_id=user-1", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebSocket(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws?userId=user-1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var f domain.Frame
	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, domain.EventConnected, f.Type)

	h.deps.Registry.Broadcast("user-1", domain.NewCompletedUpdate("user-1", "job-1", domain.FeatureSummarization, nil, fixedNow))

	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, domain.EventJobCompleted, f.Type)
	assert.Equal(t, domain.JobStatusCompleted, f.Status)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		return h.deps.Registry.Count("user-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
