package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler serves live job updates over a WebSocket
type WSHandler struct {
	deps   *Dependencies
	logger *slog.Logger
}

func NewWSHandler(deps *Dependencies) *WSHandler {
	return &WSHandler{
		deps:   deps,
		logger: deps.Logger.With(slog.String("handler", "ws")),
	}
}

// Serve handles GET /api/v1/events/ws
func (h *WSHandler) Serve(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, ok := register(c, h.deps, userID)
	if !ok {
		return
	}
	defer h.deps.Registry.Remove(userID, conn)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	interval := heartbeatInterval(h.deps)

	// the reader only watches for close and pongs; inbound messages are ignored
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_ = ws.SetReadDeadline(time.Now().Add(2 * interval))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * interval))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f domain.Frame) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteJSON(f); err != nil {
			h.logger.Debug("WebSocket write failed",
				slog.String("conn_id", conn.ID()),
				slog.String("error", err.Error()),
			)
			return false
		}
		return true
	}

	if !write(connectedFrame(conn, h.deps.now())) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteWait))
			return
		case f := <-conn.Out():
			if !write(f) {
				return
			}
		case <-ticker.C:
			if !write(domain.ControlFrame(domain.EventHeartbeat, h.deps.now())) {
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
