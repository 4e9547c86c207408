package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/database"
	"github.com/procflow/procflow/internal/store"
)

// NodeExecutionStore implements store.NodeExecutionStore using PostgreSQL.
type NodeExecutionStore struct {
	db *database.DB
}

// NewNodeExecutionStore creates a PostgreSQL node execution store.
func NewNodeExecutionStore(db *database.DB) *NodeExecutionStore {
	return &NodeExecutionStore{db: db}
}

// Create inserts a new node execution record.
func (s *NodeExecutionStore) Create(ctx context.Context, rec *execution.NodeExecution) error {
	query := `
		INSERT INTO node_executions (
			id, execution_id, workflow_id, token_id, node_id, node_type, status,
			input_data, output_data, error_message, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	inputData, err := json.Marshal(rec.InputData)
	if err != nil {
		return fmt.Errorf("failed to serialize input data: %w", err)
	}
	outputData, err := json.Marshal(rec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to serialize output data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.ExecutionID,
		rec.WorkflowID,
		rec.TokenID,
		rec.NodeID,
		rec.NodeType,
		string(rec.Status),
		inputData,
		outputData,
		rec.ErrorMessage,
		rec.StartedAt,
		rec.CompletedAt,
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create node execution: %w", err)
	}
	return nil
}

// Update persists the outcome of a node execution.
func (s *NodeExecutionStore) Update(ctx context.Context, rec *execution.NodeExecution) error {
	query := `
		UPDATE node_executions SET
			status = $2,
			output_data = $3,
			error_message = $4,
			completed_at = $5,
			duration_ms = $6
		WHERE id = $1`

	outputData, err := json.Marshal(rec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to serialize output data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Status),
		outputData,
		rec.ErrorMessage,
		rec.CompletedAt,
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to update node execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindByID returns the node execution with the given id.
func (s *NodeExecutionStore) FindByID(ctx context.Context, id string) (*execution.NodeExecution, error) {
	query := `
		SELECT id, execution_id, workflow_id, token_id, node_id, node_type, status,
		       input_data, output_data, error_message, started_at, completed_at, duration_ms
		FROM node_executions WHERE id = $1`

	rec, err := scanNodeExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find node execution: %w", err)
	}
	return rec, nil
}

// ListByExecution returns the audit trail of one execution in start order.
func (s *NodeExecutionStore) ListByExecution(ctx context.Context, executionID string) ([]*execution.NodeExecution, error) {
	query := `
		SELECT id, execution_id, workflow_id, token_id, node_id, node_type, status,
		       input_data, output_data, error_message, started_at, completed_at, duration_ms
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY started_at ASC NULLS LAST`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	defer rows.Close()

	var out []*execution.NodeExecution
	for rows.Next() {
		rec, err := scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReconcileDangling marks executing rows started before the cutoff as failed.
func (s *NodeExecutionStore) ReconcileDangling(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE node_executions SET
			status = 'failed',
			error_message = 'interrupted by restart',
			completed_at = now()
		WHERE status = 'executing' AND (started_at IS NULL OR started_at < $1)`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile node executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanNodeExecution(row rowScanner) (*execution.NodeExecution, error) {
	var (
		rec         execution.NodeExecution
		status      string
		inputData   []byte
		outputData  []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.ExecutionID, &rec.WorkflowID, &rec.TokenID,
		&rec.NodeID, &rec.NodeType, &status,
		&inputData, &outputData, &errMsg, &startedAt, &completedAt, &rec.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = execution.NodeStatus(status)
	rec.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	if len(inputData) > 0 {
		if err := json.Unmarshal(inputData, &rec.InputData); err != nil {
			return nil, fmt.Errorf("failed to decode input data: %w", err)
		}
	}
	if len(outputData) > 0 {
		if err := json.Unmarshal(outputData, &rec.OutputData); err != nil {
			return nil, fmt.Errorf("failed to decode output data: %w", err)
		}
	}
	return &rec, nil
}
