package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

type CreateJobRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	FeatureType string          `json:"feature_type" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
}

type CreateJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Priority  int    `json:"priority"`
	CreatedAt string `json:"created_at"`
}

// RateLimitedResponse surfaces the limiter decision unchanged
type RateLimitedResponse struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason"`
	Limits  map[string]int `json:"limits"`
	Current map[string]int `json:"current"`
}

type GetJobRequest struct {
	UserID string `form:"user_id"`
}

type ListJobsRequest struct {
	UserID      string `form:"user_id"`
	FeatureType string `form:"feature_type"`
	Status      string `form:"status"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	FeatureType string          `json:"feature_type"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// NewJobDTO converts a stored record into its response shape
func NewJobDTO(job *domain.JobRecord) JobDTO {
	d := JobDTO{
		JobID:       job.JobID,
		UserID:      job.UserID,
		FeatureType: string(job.FeatureType),
		Status:      string(job.Status),
		Progress:    job.Progress,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}
	if len(job.Payload) > 0 {
		d.Payload = json.RawMessage(job.Payload)
	}
	if len(job.Result) > 0 {
		d.Result = json.RawMessage(job.Result)
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return d
}
