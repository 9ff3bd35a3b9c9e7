package ratelimit

import (
	"context"
	"fmt"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// Classifier maps a user's tier to a queue priority
type Classifier struct {
	tiers       TierSource
	defaultTier string
	priorities  map[string]int
}

// NewClassifier creates a classifier from tier to priority mappings
func NewClassifier(tiers TierSource, defaultTier string, priorities map[string]int) *Classifier {
	return &Classifier{tiers: tiers, defaultTier: defaultTier, priorities: priorities}
}

// PriorityOf returns 1 (high), 2 (normal) or 3 (low). Unknown tiers and
// out-of-range mappings fall back to normal.
func (c *Classifier) PriorityOf(ctx context.Context, userID string) (int, error) {
	tier := c.defaultTier
	if c.tiers != nil {
		t, err := c.tiers.TierOf(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve tier: %w", err)
		}
		if t != "" {
			tier = t
		}
	}

	p, ok := c.priorities[tier]
	if !ok || !domain.ValidPriority(p) {
		return domain.PriorityNormal, nil
	}
	return p, nil
}
