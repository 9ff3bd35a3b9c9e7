package reaper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/storage"
	"github.com/cuongbtq/jobpulse/shared/logger"
)

var baseNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeJob struct {
	status     domain.JobStatus
	retryCount int
	err        string
}

type fakeStore struct {
	mu          sync.Mutex
	now         time.Time
	entries     map[string]*domain.ActiveJobEntry
	jobs        map[string]*fakeJob
	deadLetters map[string]string
	listCalls   int
	listErr     error
	retryErr    map[string]error
	deadErr     map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:         baseNow,
		entries:     make(map[string]*domain.ActiveJobEntry),
		jobs:        make(map[string]*fakeJob),
		deadLetters: make(map[string]string),
		retryErr:    make(map[string]error),
		deadErr:     make(map[string]error),
	}
}

func (s *fakeStore) add(id string, ft domain.FeatureType, age time.Duration, retry, maxRetries int) *domain.ActiveJobEntry {
	ts := s.now.Add(-age)
	e := &domain.ActiveJobEntry{
		JobID:         id,
		UserID:        "user-1",
		FeatureType:   ft,
		Status:        domain.JobStatusProcessing,
		Priority:      domain.PriorityNormal,
		RetryCount:    retry,
		MaxRetries:    maxRetries,
		CreatedAt:     ts,
		LastAttemptAt: ts,
	}
	s.entries[id] = e
	s.jobs[id] = &fakeJob{status: domain.JobStatusProcessing, retryCount: retry}
	return e
}

func (s *fakeStore) ListStale(_ context.Context, q storage.StaleQuery) ([]*domain.ActiveJobEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	types := make(map[domain.FeatureType]bool)
	for _, ft := range q.FeatureTypes {
		types[ft] = true
	}

	var out []*domain.ActiveJobEntry
	for _, e := range s.entries {
		ts := e.Since(q.AgeFrom)
		if e.Status != domain.JobStatusProcessing || !types[e.FeatureType] || !ts.Before(q.OlderThan) {
			continue
		}
		if q.After != nil && (ts.Before(q.After.At) || (ts.Equal(q.After.At) && e.JobID <= q.After.ID)) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Since(q.AgeFrom), out[j].Since(q.AgeFrom)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].JobID < out[j].JobID
	})

	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fakeStore) RetryStale(_ context.Context, entry *domain.ActiveJobEntry, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.retryErr[entry.JobID]; err != nil {
		return err
	}
	job := s.jobs[entry.JobID]
	if job == nil || job.status != domain.JobStatusProcessing || job.retryCount != entry.RetryCount {
		return domain.ErrTransitionConflict
	}

	job.status = domain.JobStatusQueued
	job.retryCount++
	job.err = reason

	e := s.entries[entry.JobID]
	e.Status = domain.JobStatusQueued
	e.RetryCount = job.retryCount
	e.LastAttemptAt = s.now
	return nil
}

func (s *fakeStore) DeadLetterStale(_ context.Context, entry *domain.ActiveJobEntry, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deadErr[entry.JobID]; err != nil {
		return err
	}
	job := s.jobs[entry.JobID]
	if job == nil || job.status != domain.JobStatusProcessing {
		return domain.ErrTransitionConflict
	}

	s.deadLetters[entry.JobID] = reason
	job.status = domain.JobStatusFailed
	job.err = reason
	delete(s.entries, entry.JobID)
	return nil
}

type fakeRequeuer struct {
	mu   sync.Mutex
	msgs []*domain.JobMessage
	err  error
}

func (q *fakeRequeuer) Enqueue(_ context.Context, msg *domain.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []domain.JobUpdate
}

func (n *fakeNotifier) Notify(_ context.Context, u domain.JobUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

type harness struct {
	store    *fakeStore
	requeuer *fakeRequeuer
	notifier *fakeNotifier
	reaper   *Reaper
}

func newHarness(policies ...Policy) *harness {
	h := &harness{
		store:    newFakeStore(),
		requeuer: &fakeRequeuer{},
		notifier: &fakeNotifier{},
	}
	h.reaper = New(&Config{
		Store:    h.store,
		Requeuer: h.requeuer,
		Notifier: h.notifier,
		Policies: policies,
		Logger:   logger.NewDiscard(),
		Now:      func() time.Time { return h.store.now },
	})
	return h
}

var aiPolicy = Policy{
	Family:       "ai",
	FeatureTypes: []domain.FeatureType{domain.FeatureSummarization, domain.FeatureRepurposing},
	Timeout:      5 * time.Minute,
	BatchSize:    500,
}

func TestSweep_RetriesStalledJob(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("job-1", domain.FeatureSummarization, 6*time.Minute, 0, 3)

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, Result{Cleaned: 1, Retried: 1}, res)

	job := h.store.jobs["job-1"]
	assert.Equal(t, domain.JobStatusQueued, job.status)
	assert.Equal(t, 1, job.retryCount)
	assert.Equal(t, "Job timed out after 5 minutes (attempt 1/3)", job.err)

	entry := h.store.entries["job-1"]
	require.NotNil(t, entry, "retried job stays in the active index")
	assert.Equal(t, domain.JobStatusQueued, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)

	require.Len(t, h.requeuer.msgs, 1)
	assert.Equal(t, "job-1", h.requeuer.msgs[0].JobID)
	assert.Equal(t, 1, h.requeuer.msgs[0].Attempt)
	assert.Equal(t, domain.PriorityNormal, h.requeuer.msgs[0].Priority)

	require.Len(t, h.notifier.updates, 1)
	u := h.notifier.updates[0]
	assert.Equal(t, domain.EventJobRetry, u.Type)
	assert.Equal(t, domain.JobStatusProcessing, u.Status)
	assert.Equal(t, "user-1", u.UserID)
	assert.Equal(t, true, u.Data["retrying"])
	assert.Equal(t, 1, u.Data["attempt"])
	assert.Equal(t, 3, u.Data["maxRetries"])
}

func TestSweep_MovesExhaustedJobToDeadLetter(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("job-1", domain.FeatureSummarization, 6*time.Minute, 3, 3)

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, Result{Cleaned: 1, MovedToDeadLetter: 1, Failed: 1}, res)
	assert.Contains(t, h.store.deadLetters["job-1"], "timed out after 5 minutes")
	assert.Equal(t, domain.JobStatusFailed, h.store.jobs["job-1"].status)
	assert.NotContains(t, h.store.entries, "job-1")
	assert.Empty(t, h.requeuer.msgs)

	require.Len(t, h.notifier.updates, 1)
	assert.Equal(t, domain.EventJobFailed, h.notifier.updates[0].Type)
	assert.Equal(t, domain.JobStatusFailed, h.notifier.updates[0].Status)
}

func TestSweep_IgnoresFreshAndOtherFamilies(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("fresh", domain.FeatureSummarization, 4*time.Minute, 0, 3)
	h.store.add("other-family", domain.FeatureTranscription, time.Hour, 0, 3)
	queued := h.store.add("queued", domain.FeatureRepurposing, time.Hour, 0, 3)
	queued.Status = domain.JobStatusQueued

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.Empty(t, h.notifier.updates)
}

func TestSweep_BackToBackIsIdempotent(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("retry-me", domain.FeatureSummarization, 6*time.Minute, 1, 3)
	h.store.add("bury-me", domain.FeatureRepurposing, 10*time.Minute, 3, 3)

	first, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Cleaned)
	assert.Equal(t, 1, first.Retried)
	assert.Equal(t, 1, first.MovedToDeadLetter)

	second, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)
	assert.Equal(t, Result{}, second)
	assert.Len(t, h.store.deadLetters, 1)
}

func TestSweep_FullPageFetchesNextPage(t *testing.T) {
	tests := []struct {
		name      string
		stale     int
		wantCalls int
	}{
		{"exactly one page", 500, 2},
		{"one over a page", 501, 2},
		{"short page", 499, 1},
		{"two full pages", 1000, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(aiPolicy)
			for i := 0; i < tt.stale; i++ {
				// same timestamp for many rows exercises the job_id tiebreak
				age := 6*time.Minute + time.Duration(i%7)*time.Second
				h.store.add(fmt.Sprintf("job-%04d", i), domain.FeatureSummarization, age, 0, 3)
			}

			res, err := h.reaper.Sweep(context.Background(), aiPolicy)
			require.NoError(t, err)

			assert.Equal(t, tt.stale, res.Cleaned)
			assert.Equal(t, tt.stale, res.Retried)
			assert.Equal(t, tt.wantCalls, h.store.listCalls)
			assert.Len(t, h.requeuer.msgs, tt.stale)
		})
	}
}

func TestSweep_PerJobErrorContinuesBatch(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("job-a", domain.FeatureSummarization, 8*time.Minute, 0, 3)
	h.store.add("job-b", domain.FeatureSummarization, 7*time.Minute, 0, 3)
	h.store.add("job-c", domain.FeatureSummarization, 6*time.Minute, 3, 3)
	h.store.retryErr["job-a"] = errors.New("connection reset")

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Cleaned)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.MovedToDeadLetter)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "job-a")
	assert.Contains(t, res.Errors[0], "connection reset")
}

func TestSweep_ConflictCountsAsSkipped(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("job-1", domain.FeatureSummarization, 6*time.Minute, 0, 3)
	h.store.retryErr["job-1"] = fmt.Errorf("retry: %w", domain.ErrTransitionConflict)

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, Result{Cleaned: 1, Skipped: 1}, res)
	assert.Empty(t, h.notifier.updates)
	assert.Empty(t, h.requeuer.msgs)
}

func TestSweep_RepublishFailureIsReported(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.add("job-1", domain.FeatureSummarization, 6*time.Minute, 0, 3)
	h.requeuer.err = errors.New("channel closed")

	res, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Retried)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "republish failed")
	assert.Len(t, h.notifier.updates, 1)
}

func TestSweep_ScanErrorIsFatal(t *testing.T) {
	h := newHarness(aiPolicy)
	h.store.listErr = errors.New("relation does not exist")

	_, err := h.reaper.Sweep(context.Background(), aiPolicy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestSweep_AgeFrom(t *testing.T) {
	policy := Policy{
		Family:       "transcription",
		FeatureTypes: []domain.FeatureType{domain.FeatureTranscription},
		Timeout:      30 * time.Minute,
		BatchSize:    100,
	}

	tests := []struct {
		name    string
		ageFrom domain.AgeFrom
		want    int
	}{
		{"last attempt keeps recently retried job", domain.AgeFromLastAttempt, 0},
		{"created ages from original submission", domain.AgeFromCreated, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			e := h.store.add("job-1", domain.FeatureTranscription, 40*time.Minute, 1, 2)
			e.LastAttemptAt = baseNow.Add(-time.Minute)

			p := policy
			p.AgeFrom = tt.ageFrom
			res, err := h.reaper.Sweep(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Cleaned)
		})
	}
}

func TestSweepAll_RunsRemainingFamiliesAfterFailure(t *testing.T) {
	transcription := Policy{
		Family:       "transcription",
		FeatureTypes: []domain.FeatureType{domain.FeatureTranscription},
		Timeout:      30 * time.Minute,
	}
	h := newHarness(aiPolicy, transcription)
	h.store.add("ai-1", domain.FeatureSummarization, 6*time.Minute, 0, 3)
	h.store.add("tr-1", domain.FeatureTranscription, 31*time.Minute, 2, 2)

	res, err := h.reaper.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Cleaned: 2, Retried: 1, MovedToDeadLetter: 1, Failed: 1}, res)

	h.store.listErr = errors.New("timeout")
	_, err = h.reaper.SweepAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "family ai")
	assert.Equal(t, 4, h.store.listCalls, "both families are still attempted")
}

func TestResult_Merge(t *testing.T) {
	r := Result{Cleaned: 1, Retried: 1, Errors: []string{"a"}}
	r.Merge(Result{Cleaned: 2, MovedToDeadLetter: 1, Failed: 1, Skipped: 1, Errors: []string{"b"}})

	assert.Equal(t, Result{Cleaned: 3, Retried: 1, MovedToDeadLetter: 1, Failed: 1, Skipped: 1, Errors: []string{"a", "b"}}, r)
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "5 minutes", FormatTimeout(5*time.Minute))
	assert.Equal(t, "1 minute", FormatTimeout(time.Minute))
	assert.Equal(t, "2m30s", FormatTimeout(150*time.Second))
}

func TestPoliciesFromConfig(t *testing.T) {
	cfg := &config.ReaperConfig{
		BatchSize: 500,
		Families: []config.FamilyConfig{
			{Name: "ai", FeatureTypes: []string{"summarization", "repurposing"}, Timeout: 5 * time.Minute, AgeFrom: "last_attempt"},
			{Name: "transcription", FeatureTypes: []string{"transcription"}, Timeout: 30 * time.Minute, BatchSize: 100, AgeFrom: "created"},
		},
	}

	policies := PoliciesFromConfig(cfg)
	require.Len(t, policies, 2)
	assert.Equal(t, []domain.FeatureType{domain.FeatureSummarization, domain.FeatureRepurposing}, policies[0].FeatureTypes)
	assert.Equal(t, 500, policies[0].BatchSize)
	assert.Equal(t, domain.AgeFromLastAttempt, policies[0].AgeFrom)
	assert.Equal(t, 100, policies[1].BatchSize)
	assert.Equal(t, domain.AgeFromCreated, policies[1].AgeFrom)
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	h := newHarness(aiPolicy)

	_, err := NewScheduler("every now and then", h.reaper, logger.NewDiscard())
	assert.Error(t, err)

	s, err := NewScheduler("@every 1h", h.reaper, logger.NewDiscard())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
