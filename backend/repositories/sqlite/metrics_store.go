package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-router/backend/models"
)

// MetricsStore records per-strategy usage rows and answers windowed
// aggregate queries. It backs the metrics reader used for strategy-scoped
// admission projection.
type MetricsStore struct {
	db *DB
}

// NewMetricsStore creates a metrics store on the given database.
func NewMetricsStore(db *DB) *MetricsStore {
	return &MetricsStore{db: db}
}

// Insert appends one usage row for a strategy.
func (s *MetricsStore) Insert(ctx context.Context, strategyID string, d models.Dimension, amount float64, ts time.Time) error {
	query := `
		INSERT INTO usage_metrics (strategy_id, dimension, timestamp, amount)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, strategyID, string(d), ts.UnixMilli(), amount)
	if err != nil {
		return fmt.Errorf("failed to insert usage metric: %w", err)
	}
	return nil
}

// AggregateSince returns the sum and row count for a strategy and dimension
// since the given time.
func (s *MetricsStore) AggregateSince(ctx context.Context, strategyID string, d models.Dimension, since time.Time) (sum float64, count int64, err error) {
	query := `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM usage_metrics
		WHERE strategy_id = ?
		  AND dimension = ?
		  AND timestamp >= ?
	`

	err = s.db.QueryRowContext(ctx, query, strategyID, string(d), since.UnixMilli()).Scan(&sum, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate usage metrics: %w", err)
	}
	return sum, count, nil
}

// DeleteOlderThan removes usage rows outside any supported window. Returns
// the number of rows deleted.
func (s *MetricsStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM usage_metrics WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage metrics: %w", err)
	}
	return result.RowsAffected()
}
