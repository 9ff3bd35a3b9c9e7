package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job record
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsActive reports whether a job in this status belongs in the active job index
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// IsTerminal reports whether no further transitions are expected
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseJobStatus validates a status string coming from the outside world
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// FeatureType tags the kind of work a job performs
type FeatureType string

const (
	FeatureSummarization FeatureType = "summarization"
	FeatureRepurposing   FeatureType = "repurposing"
	FeatureTranscription FeatureType = "transcription"
)

// KnownFeatureTypes lists every feature the service dispatches
var KnownFeatureTypes = []FeatureType{
	FeatureSummarization,
	FeatureRepurposing,
	FeatureTranscription,
}

// ParseFeatureType validates a feature type string
func ParseFeatureType(s string) (FeatureType, error) {
	for _, ft := range KnownFeatureTypes {
		if string(ft) == s {
			return ft, nil
		}
	}
	return "", fmt.Errorf("unknown feature type %q", s)
}

// Priority levels returned by the priority classifier
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

// ValidPriority reports whether p is one of the three supported levels
func ValidPriority(p int) bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// JobRecord is the durable state of one submitted unit of work
type JobRecord struct {
	JobID       string      `db:"job_id" json:"job_id"`
	UserID      string      `db:"user_id" json:"user_id"`
	FeatureType FeatureType `db:"feature_type" json:"feature_type"`
	Status      JobStatus   `db:"status" json:"status"`
	RetryCount  int         `db:"retry_count" json:"retry_count"`
	MaxRetries  int         `db:"max_retries" json:"max_retries"`
	Payload     []byte      `db:"payload" json:"payload,omitempty"`
	Result      []byte      `db:"result" json:"result,omitempty"`
	Error       string      `db:"error" json:"error,omitempty"`
	Progress    int         `db:"progress" json:"progress"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// CanRetry reports whether the retry budget still has room
func (j *JobRecord) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Snapshot renders the record as JSON with payload and result inlined
func (j *JobRecord) Snapshot() ([]byte, error) {
	view := struct {
		*JobRecord
		Payload json.RawMessage `json:"payload,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
	}{JobRecord: j}
	if len(j.Payload) > 0 {
		view.Payload = json.RawMessage(j.Payload)
	}
	if len(j.Result) > 0 {
		view.Result = json.RawMessage(j.Result)
	}
	return json.Marshal(view)
}

// ActiveJobEntry is the narrow projection kept only while a job is in flight
type ActiveJobEntry struct {
	JobID         string      `db:"job_id"`
	UserID        string      `db:"user_id"`
	FeatureType   FeatureType `db:"feature_type"`
	Status        JobStatus   `db:"status"`
	Priority      int         `db:"priority"`
	RetryCount    int         `db:"retry_count"`
	MaxRetries    int         `db:"max_retries"`
	CreatedAt     time.Time   `db:"created_at"`
	StartedAt     *time.Time  `db:"started_at"`
	LastAttemptAt time.Time   `db:"last_attempt_at"`
}

// CanRetry reports whether the retry budget still has room
func (e *ActiveJobEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// AgeFrom selects the timestamp a stall is measured from
type AgeFrom string

const (
	// AgeFromLastAttempt measures from the latest submission, claim or retry
	AgeFromLastAttempt AgeFrom = "last_attempt"
	// AgeFromCreated measures from original creation, ignoring retries
	AgeFromCreated AgeFrom = "created"
)

// Since returns the reference timestamp of the entry for the given clock
func (e *ActiveJobEntry) Since(from AgeFrom) time.Time {
	if from == AgeFromCreated {
		return e.CreatedAt
	}
	return e.LastAttemptAt
}

// DeadLetterEntry is the append-only audit record of a permanently failed job
type DeadLetterEntry struct {
	ID            string      `db:"id" json:"id"`
	OriginalJobID string      `db:"original_job_id" json:"original_job_id"`
	UserID        string      `db:"user_id" json:"user_id"`
	FeatureType   FeatureType `db:"feature_type" json:"feature_type"`
	JobData       []byte      `db:"job_data" json:"job_data"`
	Reason        string      `db:"reason" json:"reason"`
	MovedAt       time.Time   `db:"moved_at" json:"moved_at"`
	RetryCount    int         `db:"retry_count" json:"retry_count"`
	MaxRetries    int         `db:"max_retries" json:"max_retries"`
}

// JobMessage is the body published to the jobs queue
type JobMessage struct {
	JobID       string      `json:"job_id"`
	UserID      string      `json:"user_id"`
	FeatureType FeatureType `json:"feature_type"`
	Priority    int         `json:"priority,omitempty"`
	Attempt     int         `json:"attempt"`
	DeliveryTag uint64      `json:"-"`
}
