package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/shared/logger"
	"github.com/cuongbtq/jobpulse/shared/redis"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (c *memCounter) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	n, ok := c.counts[key]
	if !ok {
		return "", redis.ErrNil
	}
	return strconv.FormatInt(n, 10), nil
}

func (c *memCounter) IncrWithExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	if c.counts[key] == 1 {
		c.ttls[key] = ttl
	}
	return c.counts[key], nil
}

func (c *memCounter) Decr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]--
	return c.counts[key], nil
}

// racingCounter lets another submission land between the read and the increment
type racingCounter struct {
	*memCounter
	before func(key string)
}

func (c *racingCounter) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.before(key)
	return c.memCounter.IncrWithExpire(ctx, key, ttl)
}

type staticTiers map[string]string

func (s staticTiers) TierOf(_ context.Context, userID string) (string, error) {
	if userID == "broken" {
		return "", errors.New("db down")
	}
	return s[userID], nil
}

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:     true,
		Window:      time.Hour,
		DefaultTier: "free",
		Tiers: map[string]map[string]int{
			"free": {"summarization": 2, "transcription": 0},
			"pro":  {"summarization": 100},
		},
		Priorities: map[string]int{"free": 3, "pro": 2, "enterprise": 1, "weird": 7},
	}
}

func newTestLimiter(counter Counter) *Limiter {
	l := NewLimiter(counter, staticTiers{"alice": "pro"}, testConfig(), logger.NewDiscard())
	l.now = func() time.Time { return time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC) }
	return l
}

func TestLimiter_CanSubmit(t *testing.T) {
	counter := newMemCounter()
	l := newTestLimiter(counter)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		d, err := l.CanSubmit(ctx, "bob", domain.FeatureSummarization)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, map[string]int{"summarization": 2}, d.Limits)
		assert.Equal(t, map[string]int{"summarization": i}, d.Current)
	}

	d, err := l.CanSubmit(ctx, "bob", domain.FeatureSummarization)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "summarization limit of 2")
	assert.Contains(t, d.Reason, "free tier")
	assert.Equal(t, map[string]int{"summarization": 2}, d.Current)

	// refusals do not consume quota
	key := l.windowKey("bob", "summarization")
	assert.Equal(t, int64(2), counter.counts[key])
	assert.Equal(t, time.Hour, counter.ttls[key])
}

func TestLimiter_LostRaceReleasesSlot(t *testing.T) {
	mem := newMemCounter()
	counter := &racingCounter{memCounter: mem}
	l := newTestLimiter(counter)
	key := l.windowKey("bob", "summarization")
	mem.counts[key] = 1

	counter.before = func(k string) {
		mem.mu.Lock()
		mem.counts[k]++
		mem.mu.Unlock()
	}

	d, err := l.CanSubmit(context.Background(), "bob", domain.FeatureSummarization)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, map[string]int{"summarization": 2}, d.Current)
	assert.Equal(t, int64(2), mem.counts[key])
}

func TestLimiter_TiersAndFeatures(t *testing.T) {
	l := newTestLimiter(newMemCounter())
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		feature domain.FeatureType
		allowed bool
	}{
		{"pro tier has higher quota", "alice", domain.FeatureSummarization, true},
		{"zero quota refuses", "bob", domain.FeatureTranscription, false},
		{"unlisted feature is unlimited", "bob", domain.FeatureRepurposing, true},
		{"unlisted feature for pro", "alice", domain.FeatureTranscription, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := l.CanSubmit(ctx, tt.userID, tt.feature)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
		})
	}
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	l := NewLimiter(newMemCounter(), nil, cfg, logger.NewDiscard())

	d, err := l.CanSubmit(context.Background(), "bob", domain.FeatureTranscription)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	l = NewLimiter(nil, nil, testConfig(), logger.NewDiscard())
	d, err = l.CanSubmit(context.Background(), "bob", domain.FeatureTranscription)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_Errors(t *testing.T) {
	counter := newMemCounter()
	l := newTestLimiter(counter)

	_, err := l.CanSubmit(context.Background(), "broken", domain.FeatureSummarization)
	assert.Error(t, err)

	counter.err = errors.New("redis down")
	_, err = l.CanSubmit(context.Background(), "bob", domain.FeatureSummarization)
	assert.ErrorIs(t, err, counter.err)
}

func TestLimiter_WindowKey(t *testing.T) {
	l := newTestLimiter(newMemCounter())
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC).Unix()

	assert.Equal(t, "ratelimit:bob:summarization:"+strconv.FormatInt(start, 10), l.windowKey("bob", "summarization"))
}

func TestClassifier_PriorityOf(t *testing.T) {
	tiers := staticTiers{"alice": "pro", "carol": "enterprise", "dave": "weird", "erin": "unknown"}
	c := NewClassifier(tiers, "free", testConfig().Priorities)
	ctx := context.Background()

	tests := []struct {
		userID string
		want   int
	}{
		{"alice", domain.PriorityNormal},
		{"carol", domain.PriorityHigh},
		{"bob", domain.PriorityLow},
		{"dave", domain.PriorityNormal},
		{"erin", domain.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			p, err := c.PriorityOf(ctx, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}

	_, err := c.PriorityOf(ctx, "broken")
	assert.Error(t, err)
}
