package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobpulse/internal/api/dto"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/metrics"
	"github.com/cuongbtq/jobpulse/internal/storage"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	deps   *Dependencies
	logger *slog.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		deps:   deps,
		logger: deps.Logger.With(slog.String("handler", "jobs")),
	}
}

// CreateJob handles POST /api/v1/jobs
// Admits a job, persists it together with its active index entry and publishes it
func (h *JobHandler) CreateJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		errorJSON(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	featureType, err := domain.ParseFeatureType(req.FeatureType)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := domain.DecodePayload(featureType, req.Payload)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		h.logger.Warn("Rejected job payload",
			slog.String("feature_type", string(featureType)),
			slog.String("error", err.Error()),
		)
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := h.deps.Limiter.CanSubmit(ctx, req.UserID, featureType)
	if err != nil {
		h.logger.Error("Rate limit check failed", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to check rate limit")
		return
	}
	if !decision.Allowed {
		metrics.IncRejected(string(featureType))
		c.JSON(http.StatusTooManyRequests, dto.RateLimitedResponse{
			Error:   "Rate limit exceeded",
			Reason:  decision.Reason,
			Limits:  decision.Limits,
			Current: decision.Current,
		})
		return
	}

	priority, err := h.deps.Priority.PriorityOf(ctx, req.UserID)
	if err != nil {
		h.logger.Error("Priority lookup failed", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to resolve priority")
		return
	}

	now := h.deps.now().UTC()
	job := &domain.JobRecord{
		JobID:       uuid.New().String(),
		UserID:      req.UserID,
		FeatureType: featureType,
		Status:      domain.JobStatusQueued,
		MaxRetries:  h.deps.MaxRetries(string(featureType)),
		Payload:     req.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.deps.Jobs.CreateJob(ctx, job, priority); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to create job")
		return
	}

	msg := &domain.JobMessage{
		JobID:       job.JobID,
		UserID:      job.UserID,
		FeatureType: job.FeatureType,
		Priority:    priority,
	}
	if err := h.deps.Queue.Enqueue(ctx, msg); err != nil {
		h.logger.Error("Failed to publish job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		if abandonErr := h.deps.Jobs.AbandonJob(ctx, job.JobID, "failed to enqueue job"); abandonErr != nil {
			h.logger.Error("Failed to abandon unpublished job",
				slog.String("job_id", job.JobID),
				slog.String("error", abandonErr.Error()),
			)
		}
		errorJSON(c, http.StatusServiceUnavailable, "Failed to enqueue job")
		return
	}

	metrics.IncSubmitted(string(featureType), priority)
	h.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.String("feature_type", string(featureType)),
		slog.Int("priority", priority),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:     job.JobID,
		Status:    string(job.Status),
		Priority:  priority,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the durable record, the source of truth after a viewer reconnects
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		errorJSON(c, http.StatusBadRequest, "job_id must be a valid UUID")
		return
	}

	var req dto.GetJobRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	job, err := h.deps.Jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			errorJSON(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to get job")
		return
	}

	// another user's job is reported as missing
	if req.UserID != "" && req.UserID != job.UserID {
		errorJSON(c, http.StatusNotFound, "Job not found")
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		errorJSON(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	req.PageSize = clampPageSize(req.PageSize)

	if req.Status != "" {
		if _, err := domain.ParseJobStatus(req.Status); err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.FeatureType != "" {
		if _, err := domain.ParseFeatureType(req.FeatureType); err != nil {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	cursor, err := storage.DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		errorJSON(c, http.StatusBadRequest, "Invalid cursor")
		return
	}

	jobs, err := h.deps.Jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		UserID:      req.UserID,
		FeatureType: req.FeatureType,
		Status:      req.Status,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		errorJSON(c, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = dto.NewJobDTO(&jobs[i])
	}
	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = storage.EncodeCursor(&storage.Cursor{At: last.CreatedAt, ID: last.JobID})
	}

	c.JSON(http.StatusOK, resp)
}
