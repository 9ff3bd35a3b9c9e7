package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/notify"
	"github.com/cuongbtq/jobpulse/internal/ratelimit"
	"github.com/cuongbtq/jobpulse/internal/reaper"
	"github.com/cuongbtq/jobpulse/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// JobStore is the job record side of storage used by the API
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.JobRecord, priority int) error
	GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.JobRecord, error)
	AbandonJob(ctx context.Context, jobID, reason string) error
}

// DeadLetterStore is the read-only dead-letter side of storage
type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, filter storage.DeadLetterFilter) ([]domain.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
}

// Enqueuer publishes an admitted job to the workers
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *domain.JobMessage) error
}

// SubmitLimiter decides admission
type SubmitLimiter interface {
	CanSubmit(ctx context.Context, userID string, featureType domain.FeatureType) (ratelimit.Decision, error)
}

// PriorityClassifier assigns the queue priority of a new job
type PriorityClassifier interface {
	PriorityOf(ctx context.Context, userID string) (int, error)
}

// Sweeper runs one stall sweep over every family
type Sweeper interface {
	SweepAll(ctx context.Context) (reaper.Result, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobStore
	DeadLetters DeadLetterStore
	Queue       Enqueuer
	Limiter     SubmitLimiter
	Priority    PriorityClassifier
	Registry    *notify.Registry
	Sweeper     Sweeper
	SweepSecret string
	MaxRetries  func(featureType string) int
	Stream      config.StreamConfig
	Now         func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// clampPageSize applies the default and upper bound to a requested page size
func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// requireUserID reads the live channel's userId query value, accepting
// user_id as an alias, or answers 400
func requireUserID(c *gin.Context) (string, bool) {
	userID := c.Query("userId")
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		errorJSON(c, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return userID, true
}
