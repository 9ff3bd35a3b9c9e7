package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobpulse/internal/api/dto"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/storage"
)

// DeadLetterHandler serves read-only inspection of permanently failed jobs
type DeadLetterHandler struct {
	deps   *Dependencies
	logger *slog.Logger
}

func NewDeadLetterHandler(deps *Dependencies) *DeadLetterHandler {
	return &DeadLetterHandler{
		deps:   deps,
		logger: deps.Logger.With(slog.String("handler", "dead_letters")),
	}
}

// ListDeadLetters handles GET /api/v1/dead-letters
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	var req dto.ListDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	req.PageSize = clampPageSize(req.PageSize)

	cursor, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid cursor")
		return
	}

	entries, err := h.deps.DeadLetters.ListDeadLetters(c.Request.Context(), storage.DeadLetterFilter{
		UserID:      req.UserID,
		FeatureType: req.FeatureType,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list dead letters", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}

	hasMore := len(entries) > req.PageSize
	if hasMore {
		entries = entries[:req.PageSize]
	}

	resp := dto.ListDeadLettersResponse{DeadLetters: make([]dto.DeadLetterDTO, len(entries))}
	for i := range entries {
		resp.DeadLetters[i] = dto.NewDeadLetterDTO(&entries[i])
	}
	if hasMore {
		last := entries[len(entries)-1]
		resp.NextCursor = storage.EncodeCursor(&storage.Cursor{At: last.MovedAt, ID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

// GetDeadLetter handles GET /api/v1/dead-letters/:id
func (h *DeadLetterHandler) GetDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		errorJSON(c, http.StatusBadRequest, "id must be a valid UUID")
		return
	}

	entry, err := h.deps.DeadLetters.GetDeadLetter(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDeadLetterNotFound) {
			errorJSON(c, http.StatusNotFound, "Dead letter not found")
			return
		}
		h.logger.Error("Failed to get dead letter", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to get dead letter")
		return
	}

	c.JSON(http.StatusOK, dto.NewDeadLetterDTO(entry))
}
