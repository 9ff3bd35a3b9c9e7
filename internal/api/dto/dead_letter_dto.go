package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

type ListDeadLettersRequest struct {
	UserID      string `form:"user_id"`
	FeatureType string `form:"feature_type"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterDTO `json:"dead_letters"`
	NextCursor  string          `json:"next_cursor,omitempty"`
}

type DeadLetterDTO struct {
	ID            string          `json:"id"`
	OriginalJobID string          `json:"original_job_id"`
	UserID        string          `json:"user_id"`
	FeatureType   string          `json:"feature_type"`
	JobData       json.RawMessage `json:"job_data"`
	Reason        string          `json:"reason"`
	MovedAt       string          `json:"moved_at"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
}

func NewDeadLetterDTO(e *domain.DeadLetterEntry) DeadLetterDTO {
	d := DeadLetterDTO{
		ID:            e.ID,
		OriginalJobID: e.OriginalJobID,
		UserID:        e.UserID,
		FeatureType:   string(e.FeatureType),
		JobData:       json.RawMessage("null"),
		Reason:        e.Reason,
		MovedAt:       e.MovedAt.Format(time.RFC3339),
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
	}
	if len(e.JobData) > 0 {
		d.JobData = json.RawMessage(e.JobData)
	}
	return d
}
