package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// ListDeadLetters returns up to PageSize+1 entries, most recently moved first
func (s *Storage) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
	query, args := buildListDeadLettersQuery(filter)

	var entries []domain.DeadLetterEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

// GetDeadLetter returns one dead-letter entry by id
func (s *Storage) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	var entry domain.DeadLetterEntry
	err := s.db.GetContext(ctx, &entry, "SELECT "+deadLetterColumns+" FROM dead_letters WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return &entry, nil
}

// TierOf returns the subscription tier of userID, or "" when the user has no plan row
func (s *Storage) TierOf(ctx context.Context, userID string) (string, error) {
	var tier string
	err := s.db.GetContext(ctx, &tier, "SELECT tier FROM user_plans WHERE user_id = $1", userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user plan: %w", err)
	}
	return tier, nil
}
