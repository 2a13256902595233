package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-router/backend/models"
)

// LedgerStore persists ledger snapshots. It implements ledger.Store.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a ledger store on the given database.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Load returns all persisted events keyed by scope key.
func (s *LedgerStore) Load(ctx context.Context) (map[string][]models.UsageEvent, error) {
	query := `
		SELECT scope_key, dimension, timestamp, amount
		FROM ledger_events
		ORDER BY scope_key, timestamp
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	state := make(map[string][]models.UsageEvent)
	for rows.Next() {
		var (
			key  string
			dim  string
			ts   int64
			amnt float64
		)
		if err := rows.Scan(&key, &dim, &ts, &amnt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger event: %w", err)
		}
		state[key] = append(state[key], models.UsageEvent{
			Timestamp: time.UnixMilli(ts).UTC(),
			Amount:    amnt,
			Dimension: models.Dimension(dim),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger events: %w", err)
	}

	return state, nil
}

// Save replaces the persisted state wholesale inside one transaction.
func (s *LedgerStore) Save(ctx context.Context, state map[string][]models.UsageEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_events`); err != nil {
		return fmt.Errorf("failed to clear ledger events: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_events (scope_key, dimension, timestamp, amount)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for key, events := range state {
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, key, string(e.Dimension), e.Timestamp.UnixMilli(), e.Amount); err != nil {
				return fmt.Errorf("failed to insert ledger event for %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger state: %w", err)
	}
	return nil
}
