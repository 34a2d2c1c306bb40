// Package velocity derives per-customer transaction frequency.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// DefaultWindow is the look-back used for transaction frequency.
const DefaultWindow = 24 * time.Hour

const counterPrefix = "freq:"

// PredictionCounter counts logged predictions for a customer.
type PredictionCounter interface {
	CountCustomerPredictions(ctx context.Context, customerID string, since time.Time) (int64, error)
}

// Service calculates transaction frequency for customers.
type Service struct {
	repo   PredictionCounter
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a frequency service. Either collaborator may be nil;
// the repository is preferred when both are present.
func NewService(repo PredictionCounter, cache domain.Cache) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		window: DefaultWindow,
		now:    time.Now,
	}
}

// WithWindow returns a copy of s that looks back over window.
func (s *Service) WithWindow(window time.Duration) *Service {
	c := *s
	if window > 0 {
		c.window = window
	}
	return &c
}

// Frequency returns how many transactions customerID made in the window,
// the current one included, so the result is always at least 1.
func (s *Service) Frequency(ctx context.Context, customerID string) (int, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customerID is required")
	}

	if s.repo != nil {
		since := s.now().Add(-s.window)
		count, err := s.repo.CountCustomerPredictions(ctx, customerID, since)
		if err == nil {
			return int(count) + 1, nil
		}
		if s.cache == nil {
			return 0, fmt.Errorf("failed to count predictions: %w", err)
		}
		slog.Warn("prediction count unavailable, using cache counter", "customer_id", customerID, "error", err)
	}

	if s.cache != nil {
		return s.fromCounter(ctx, customerID)
	}

	return 0, fmt.Errorf("no data source available")
}

// fromCounter bumps the customer's windowed counter. The window is fixed
// from the first increment rather than sliding.
func (s *Service) fromCounter(ctx context.Context, customerID string) (int, error) {
	count, err := s.cache.IncrementCounter(ctx, counterPrefix+customerID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment frequency counter: %w", err)
	}
	return int(count), nil
}

// Resolve returns explicit when set, otherwise the derived frequency for
// customerID, otherwise fallback.
func (s *Service) Resolve(ctx context.Context, explicit *int, customerID string, fallback int) int {
	if explicit != nil {
		return *explicit
	}
	if customerID == "" {
		return fallback
	}
	freq, err := s.Frequency(ctx, customerID)
	if err != nil {
		slog.Warn("failed to derive transaction frequency", "customer_id", customerID, "error", err)
		return fallback
	}
	return freq
}
