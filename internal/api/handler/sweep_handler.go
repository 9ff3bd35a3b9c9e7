package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobpulse/internal/api/dto"
)

// SweepHandler exposes the stall sweep to an external scheduler
type SweepHandler struct {
	deps   *Dependencies
	logger *slog.Logger
}

func NewSweepHandler(deps *Dependencies) *SweepHandler {
	return &SweepHandler{
		deps:   deps,
		logger: deps.Logger.With(slog.String("handler", "sweep")),
	}
}

// Sweep handles GET and POST /api/v1/internal/sweep
func (h *SweepHandler) Sweep(c *gin.Context) {
	if !h.authorized(c) {
		h.logger.Warn("Unauthorized sweep request", slog.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, dto.SweepResponse{
			Success:   false,
			Error:     "Unauthorized",
			Timestamp: h.deps.now().UTC().Format(time.RFC3339),
		})
		return
	}

	result, err := h.deps.Sweeper.SweepAll(c.Request.Context())
	resp := dto.SweepResponse{
		Success:   err == nil,
		Results:   &result,
		Timestamp: h.deps.now().UTC().Format(time.RFC3339),
	}

	if err != nil {
		h.logger.Error("Sweep failed", slog.String("error", err.Error()))
		resp.Error = err.Error()
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// authorized accepts "Authorization: Bearer <secret>" or a ?secret= fallback
func (h *SweepHandler) authorized(c *gin.Context) bool {
	if h.deps.SweepSecret == "" {
		return false
	}

	token := c.Query("secret")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.SweepSecret)) == 1
}
