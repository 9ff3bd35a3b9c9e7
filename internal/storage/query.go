package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

const jobColumns = `job_id, user_id, feature_type, status, retry_count, max_retries,
	payload, result, error, progress, created_at, updated_at, completed_at`

const activeColumns = `job_id, user_id, feature_type, status, priority, retry_count, max_retries,
	created_at, started_at, last_attempt_at`

const deadLetterColumns = `id, original_job_id, user_id, feature_type, job_data, reason,
	moved_at, retry_count, max_retries`

// JobFilter narrows ListJobs
type JobFilter struct {
	UserID      string
	FeatureType string
	Status      string
	PageSize    int
	Cursor      *Cursor
}

// StaleQuery selects processing entries whose age timestamp is older than OlderThan
type StaleQuery struct {
	FeatureTypes []domain.FeatureType
	AgeFrom      domain.AgeFrom
	OlderThan    time.Time
	After        *Cursor
	Limit        int
}

// DeadLetterFilter narrows ListDeadLetters
type DeadLetterFilter struct {
	UserID      string
	FeatureType string
	PageSize    int
	Cursor      *Cursor
}

// ageColumn maps an age clock to its column; only whitelisted names reach SQL
func ageColumn(from domain.AgeFrom) string {
	if from == domain.AgeFromCreated {
		return "created_at"
	}
	return "last_attempt_at"
}

// queryBuilder appends numbered placeholders to a WHERE 1=1 query
type queryBuilder struct {
	sb   strings.Builder
	args []interface{}
}

func newQuery(base string) *queryBuilder {
	q := &queryBuilder{}
	q.sb.WriteString(base)
	return q
}

// arg records v and returns its placeholder
func (q *queryBuilder) arg(v interface{}) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) where(format string, vals ...interface{}) {
	placeholders := make([]interface{}, len(vals))
	for i, v := range vals {
		placeholders[i] = q.arg(v)
	}
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(format, placeholders...))
}

func (q *queryBuilder) tail(s string) {
	q.sb.WriteString(s)
}

func (q *queryBuilder) build() (string, []interface{}) {
	return q.sb.String(), q.args
}

func buildListJobsQuery(filter JobFilter) (string, []interface{}) {
	q := newQuery("SELECT " + jobColumns + " FROM jobs WHERE 1=1")

	if filter.UserID != "" {
		q.where("user_id = %s", filter.UserID)
	}
	if filter.FeatureType != "" {
		q.where("feature_type = %s", filter.FeatureType)
	}
	if filter.Status != "" {
		q.where("status = %s", filter.Status)
	}
	if filter.Cursor != nil {
		q.where("(created_at, job_id) < (%s, %s)", filter.Cursor.At, filter.Cursor.ID)
	}

	// Fetch one extra to determine if there are more results
	q.tail(" ORDER BY created_at DESC, job_id DESC LIMIT " + q.arg(filter.PageSize+1))

	return q.build()
}

func buildListStaleQuery(sq StaleQuery) (string, []interface{}) {
	col := ageColumn(sq.AgeFrom)

	types := make([]string, len(sq.FeatureTypes))
	for i, ft := range sq.FeatureTypes {
		types[i] = string(ft)
	}

	q := newQuery("SELECT " + activeColumns + " FROM active_jobs WHERE 1=1")
	q.where("status = %s", string(domain.JobStatusProcessing))
	q.where("feature_type = ANY(%s)", pq.StringArray(types))
	q.where(col+" < %s", sq.OlderThan)
	if sq.After != nil {
		q.where("("+col+", job_id) > (%s, %s)", sq.After.At, sq.After.ID)
	}
	q.tail(" ORDER BY " + col + " ASC, job_id ASC LIMIT " + q.arg(sq.Limit))

	return q.build()
}

func buildListDeadLettersQuery(filter DeadLetterFilter) (string, []interface{}) {
	q := newQuery("SELECT " + deadLetterColumns + " FROM dead_letters WHERE 1=1")

	if filter.UserID != "" {
		q.where("user_id = %s", filter.UserID)
	}
	if filter.FeatureType != "" {
		q.where("feature_type = %s", filter.FeatureType)
	}
	if filter.Cursor != nil {
		q.where("(moved_at, id) < (%s, %s)", filter.Cursor.At, filter.Cursor.ID)
	}

	q.tail(" ORDER BY moved_at DESC, id DESC LIMIT " + q.arg(filter.PageSize+1))

	return q.build()
}

// jsonArg binds raw JSON to a jsonb column; lib/pq would send []byte as bytea
func jsonArg(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
