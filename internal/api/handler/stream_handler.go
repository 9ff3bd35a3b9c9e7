package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/notify"
)

// StreamHandler serves live job updates as newline-delimited JSON
type StreamHandler struct {
	deps   *Dependencies
	logger *slog.Logger
}

func NewStreamHandler(deps *Dependencies) *StreamHandler {
	return &StreamHandler{
		deps:   deps,
		logger: deps.Logger.With(slog.String("handler", "stream")),
	}
}

// register opens a connection for userID or answers 503 when shutting down
func register(c *gin.Context, deps *Dependencies, userID string) (*notify.Conn, bool) {
	conn := notify.NewConn(deps.Stream.BufferSize)
	if err := deps.Registry.Add(userID, conn); err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "Live updates unavailable")
		return nil, false
	}
	return conn, true
}

func heartbeatInterval(deps *Dependencies) time.Duration {
	if deps.Stream.HeartbeatInterval > 0 {
		return deps.Stream.HeartbeatInterval
	}
	return 30 * time.Second
}

func connectedFrame(conn *notify.Conn, now time.Time) domain.Frame {
	f := domain.ControlFrame(domain.EventConnected, now)
	f.Data = map[string]any{"connectionId": conn.ID()}
	return f
}

// Stream handles GET /api/v1/events
func (h *StreamHandler) Stream(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, ok := register(c, h.deps, userID)
	if !ok {
		return
	}
	defer h.deps.Registry.Remove(userID, conn)

	h.logger.Info("Stream opened",
		slog.String("user_id", userID),
		slog.String("conn_id", conn.ID()),
	)

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	write := func(f domain.Frame) bool {
		if err := enc.Encode(f); err != nil {
			h.logger.Debug("Stream write failed",
				slog.String("conn_id", conn.ID()),
				slog.String("error", err.Error()),
			)
			return false
		}
		c.Writer.Flush()
		return true
	}

	if !write(connectedFrame(conn, h.deps.now())) {
		return
	}

	ticker := time.NewTicker(heartbeatInterval(h.deps))
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Stream closed by client", slog.String("conn_id", conn.ID()))
			return
		case <-conn.Done():
			return
		case f := <-conn.Out():
			if !write(f) {
				return
			}
		case <-ticker.C:
			if !write(domain.ControlFrame(domain.EventHeartbeat, h.deps.now())) {
				return
			}
		}
	}
}
