// Package metrics supplies the aggregate recent-usage view that
// strategy-scoped admission checks project against, and records completed
// dispatches into it.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-router/backend/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Aggregate summarizes recent usage on one dimension across all clients
// sharing a strategy.
type Aggregate struct {
	// Sum of all amounts inside the window
	Sum float64

	// Count of contributing requests
	Count int64
}

// PerRequest returns the average amount per request, zero when no requests
// contributed. Free models therefore never trip cost projections.
func (a Aggregate) PerRequest() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// Reader answers windowed aggregate queries for a strategy. The routing
// engine only reads; writes happen through Recorder.
type Reader interface {
	AggregateUsage(ctx context.Context, strategyID string, d models.Dimension, w models.Window) (Aggregate, error)
}

// Recorder persists the usage of one completed dispatch under its strategy.
type Recorder interface {
	RecordUsage(ctx context.Context, strategyID string, usage models.Usage) error
}

// Store is the persistence backend for usage rows.
type Store interface {
	Insert(ctx context.Context, strategyID string, d models.Dimension, amount float64, ts time.Time) error
	AggregateSince(ctx context.Context, strategyID string, d models.Dimension, since time.Time) (sum float64, count int64, err error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service implements Reader and Recorder over a Store.
type Service struct {
	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService creates a metrics service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		clock:  time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// AggregateUsage implements Reader.
func (s *Service) AggregateUsage(ctx context.Context, strategyID string, d models.Dimension, w models.Window) (Aggregate, error) {
	since := s.clock().Add(-w.Duration())

	sum, count, err := s.store.AggregateSince(ctx, strategyID, d, since)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to read usage aggregate: %w", err)
	}

	// Request rows carry amount 1, so their count doubles as the request
	// count for every dimension's projection.
	if d != models.DimensionRequests {
		_, reqCount, err := s.store.AggregateSince(ctx, strategyID, models.DimensionRequests, since)
		if err != nil {
			return Aggregate{}, fmt.Errorf("failed to read request count: %w", err)
		}
		count = reqCount
	}

	return Aggregate{Sum: sum, Count: count}, nil
}

// RecordUsage implements Recorder. One row is written per dimension; a
// partial failure still records the remaining dimensions.
func (s *Service) RecordUsage(ctx context.Context, strategyID string, usage models.Usage) error {
	now := s.clock()

	dims := []models.Dimension{
		models.DimensionRequests,
		models.DimensionInputTokens,
		models.DimensionOutputTokens,
		models.DimensionTotalTokens,
		models.DimensionCost,
	}

	var errs error
	for _, d := range dims {
		if err := s.store.Insert(ctx, strategyID, d, usage.Amount(d), now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// StartCleanupWorker periodically drops rows older than the widest window
// until ctx is cancelled.
func (s *Service) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started metrics cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			cutoff := s.clock().Add(-models.WindowDay.Duration())
			deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				s.logger.Error("failed to cleanup usage metrics", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Debug("cleaned up usage metrics", zap.Int64("rows_deleted", deleted))
			}
		case <-ctx.Done():
			s.logger.Info("stopping metrics cleanup worker")
			return
		}
	}
}
