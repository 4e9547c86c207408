// Package database provides the PostgreSQL connection wrapper
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/procflow/procflow/internal/platform/config"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
	cfg config.DatabaseConfig
}

// New creates a new database connection
func New(cfg config.DatabaseConfig) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			return nil, fmt.Errorf("failed to set search_path: %w", err)
		}
	}

	return &DB{DB: db, cfg: cfg}, nil
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Migrate applies the schema required by the execution stores.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS definitions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			document JSONB NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			definition_id TEXT NOT NULL,
			status TEXT NOT NULL,
			initial_data JSONB,
			current_state JSONB,
			error TEXT,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input_data JSONB,
			output_data JSONB,
			error_message TEXT,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_execution ON node_executions (execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_status ON node_executions (status)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
