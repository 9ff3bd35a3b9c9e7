package domain

import (
	"time"
)

// Event frame types sent over the live channel
const (
	EventConnected    = "connected"
	EventHeartbeat    = "heartbeat"
	EventJobProgress  = "job_progress"
	EventJobRetry     = "job_retry"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// JobUpdate is a transient status event pushed to live viewers of a user.
// UserID routes the event and is not part of the client frame.
type JobUpdate struct {
	UserID    string         `json:"userId"`
	JobID     string         `json:"jobId,omitempty"`
	Type      string         `json:"type"`
	Status    JobStatus      `json:"status,omitempty"`
	Progress  *int           `json:"progress,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Frame is the client-facing projection of an update
type Frame struct {
	Type      string         `json:"type"`
	JobID     string         `json:"jobId,omitempty"`
	Status    JobStatus      `json:"status,omitempty"`
	Progress  *int           `json:"progress,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Frame converts the update into the wire shape, timestamp in unix millis
func (u JobUpdate) Frame() Frame {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Frame{
		Type:      u.Type,
		JobID:     u.JobID,
		Status:    u.Status,
		Progress:  u.Progress,
		Data:      u.Data,
		Timestamp: ts.UnixMilli(),
	}
}

// ControlFrame builds a frame that carries no job, such as heartbeat
func ControlFrame(eventType string, now time.Time) Frame {
	return Frame{Type: eventType, Timestamp: now.UnixMilli()}
}

// NewRetryUpdate describes a stalled job being put back in the queue
func NewRetryUpdate(e *ActiveJobEntry, attempt int, reason string, now time.Time) JobUpdate {
	return JobUpdate{
		UserID: e.UserID,
		JobID:  e.JobID,
		Type:   EventJobRetry,
		Status: JobStatusProcessing,
		Data: map[string]any{
			"retrying":    true,
			"attempt":     attempt,
			"maxRetries":  e.MaxRetries,
			"reason":      reason,
			"featureType": e.FeatureType,
		},
		Timestamp: now,
	}
}

// NewFailedUpdate describes a job that reached the failed terminal state
func NewFailedUpdate(userID, jobID string, featureType FeatureType, reason string, now time.Time) JobUpdate {
	return JobUpdate{
		UserID: userID,
		JobID:  jobID,
		Type:   EventJobFailed,
		Status: JobStatusFailed,
		Data: map[string]any{
			"error":       reason,
			"featureType": featureType,
		},
		Timestamp: now,
	}
}

// NewCompletedUpdate describes a job that finished successfully
func NewCompletedUpdate(userID, jobID string, featureType FeatureType, result map[string]any, now time.Time) JobUpdate {
	done := 100
	data := map[string]any{"featureType": featureType}
	if result != nil {
		data["result"] = result
	}
	return JobUpdate{
		UserID:    userID,
		JobID:     jobID,
		Type:      EventJobCompleted,
		Status:    JobStatusCompleted,
		Progress:  &done,
		Data:      data,
		Timestamp: now,
	}
}

// NewProgressUpdate reports an intermediate progress percentage
func NewProgressUpdate(userID, jobID string, progress int, now time.Time) JobUpdate {
	p := progress
	return JobUpdate{
		UserID:    userID,
		JobID:     jobID,
		Type:      EventJobProgress,
		Status:    JobStatusProcessing,
		Progress:  &p,
		Timestamp: now,
	}
}
