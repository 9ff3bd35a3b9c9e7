// Package ratelimit decides whether a user may submit another job and at
// which priority it runs.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/shared/redis"
)

// Counter is the slice of Redis the limiter needs
type Counter interface {
	Get(ctx context.Context, key string) (string, error)
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
}

// TierSource resolves the subscription tier of a user; "" means no plan
type TierSource interface {
	TierOf(ctx context.Context, userID string) (string, error)
}

// Decision is the outcome of CanSubmit
type Decision struct {
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason,omitempty"`
	Limits  map[string]int `json:"limits"`
	Current map[string]int `json:"current"`
}

// Limiter enforces fixed-window submission quotas per tier and feature
type Limiter struct {
	counter Counter
	tiers   TierSource
	cfg     config.RateLimitConfig
	now     func() time.Time
	logger  *slog.Logger
}

// NewLimiter creates a limiter. A nil counter or a disabled config admits everything.
func NewLimiter(counter Counter, tiers TierSource, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		counter: counter,
		tiers:   tiers,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// CanSubmit counts one submission of featureType against the user's window.
// A refused attempt does not consume quota.
func (l *Limiter) CanSubmit(ctx context.Context, userID string, featureType domain.FeatureType) (Decision, error) {
	ft := string(featureType)

	if !l.cfg.Enabled || l.counter == nil {
		return Decision{Allowed: true, Limits: map[string]int{}, Current: map[string]int{}}, nil
	}

	tier, err := l.tierOf(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	limit, limited := l.cfg.Tiers[tier][ft]
	if !limited {
		return Decision{Allowed: true, Limits: map[string]int{}, Current: map[string]int{}}, nil
	}

	key := l.windowKey(userID, ft)
	limits := map[string]int{ft: limit}

	used, err := l.current(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if used >= limit {
		return l.refuse(userID, tier, ft, limits, used), nil
	}

	n, err := l.counter.IncrWithExpire(ctx, key, l.cfg.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count submission: %w", err)
	}
	if int(n) > limit {
		// lost a race with a concurrent submission; hand the slot back
		if _, err := l.counter.Decr(ctx, key); err != nil {
			l.logger.Warn("Failed to release refused submission",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
		return l.refuse(userID, tier, ft, limits, limit), nil
	}

	return Decision{Allowed: true, Limits: limits, Current: map[string]int{ft: int(n)}}, nil
}

func (l *Limiter) refuse(userID, tier, ft string, limits map[string]int, used int) Decision {
	l.logger.Info("Submission rate limited",
		slog.String("user_id", userID),
		slog.String("tier", tier),
		slog.String("feature_type", ft),
		slog.Int("limit", limits[ft]),
	)
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("%s limit of %d per %s reached for %s tier", ft, limits[ft], l.cfg.Window, tier),
		Limits:  limits,
		Current: map[string]int{ft: used},
	}
}

func (l *Limiter) current(ctx context.Context, key string) (int, error) {
	v, err := l.counter.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read submission counter: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt submission counter %s: %w", key, err)
	}
	return n, nil
}

func (l *Limiter) tierOf(ctx context.Context, userID string) (string, error) {
	if l.tiers == nil {
		return l.cfg.DefaultTier, nil
	}
	tier, err := l.tiers.TierOf(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve tier: %w", err)
	}
	if tier == "" {
		return l.cfg.DefaultTier, nil
	}
	return tier, nil
}

// windowKey buckets the counter by the start of the current fixed window
func (l *Limiter) windowKey(userID, featureType string) string {
	window := l.now().Truncate(l.cfg.Window).Unix()
	return fmt.Sprintf("ratelimit:%s:%s:%d", userID, featureType, window)
}
