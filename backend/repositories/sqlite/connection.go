package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB opens (and creates if needed) the database file at path.
func NewDB(path string, logger *zap.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; one writer connection avoids SQLITE_BUSY
	// churn from the flush worker and metrics recorder racing.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		return nil, err
	}

	logger.Info("database ready", zap.String("path", path))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// migrate creates the schema if it does not exist.
func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_events (
			scope_key TEXT NOT NULL,
			dimension TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			amount REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_key
			ON ledger_events (scope_key, timestamp)`,
		`CREATE TABLE IF NOT EXISTS usage_metrics (
			strategy_id TEXT NOT NULL,
			dimension TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			amount REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_metrics_strategy
			ON usage_metrics (strategy_id, dimension, timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
