package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/database"
	"github.com/procflow/procflow/internal/store"
)

// ExecutionStore implements store.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	db *database.DB
}

// NewExecutionStore creates a PostgreSQL execution store.
func NewExecutionStore(db *database.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create inserts a new execution record.
func (s *ExecutionStore) Create(ctx context.Context, exec *execution.Execution) error {
	query := `
		INSERT INTO executions (
			id, workflow_id, definition_id, status,
			initial_data, current_state, error, inserted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	initialData, err := json.Marshal(exec.InitialData)
	if err != nil {
		return fmt.Errorf("failed to serialize initial data: %w", err)
	}
	currentState, err := marshalState(exec.CurrentState)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowID,
		exec.DefinitionID,
		string(exec.Status),
		initialData,
		currentState,
		exec.Error,
		exec.InsertedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// Update persists the current status, state snapshot, and error.
func (s *ExecutionStore) Update(ctx context.Context, exec *execution.Execution) error {
	query := `
		UPDATE executions SET
			status = $2,
			current_state = $3,
			error = $4,
			updated_at = $5
		WHERE id = $1`

	currentState, err := marshalState(exec.CurrentState)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query,
		exec.ID,
		string(exec.Status),
		currentState,
		exec.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindByID returns the execution with the given id.
func (s *ExecutionStore) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	query := `
		SELECT id, workflow_id, definition_id, status,
		       initial_data, current_state, error, inserted_at, updated_at
		FROM executions WHERE id = $1`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution: %w", err)
	}
	return exec, nil
}

// List returns executions ordered by insertion time, newest first.
func (s *ExecutionStore) List(ctx context.Context, limit, offset int) ([]*execution.Execution, error) {
	query := `
		SELECT id, workflow_id, definition_id, status,
		       initial_data, current_state, error, inserted_at, updated_at
		FROM executions
		ORDER BY inserted_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListByStatus returns executions in the given status, newest first.
func (s *ExecutionStore) ListByStatus(ctx context.Context, status execution.Status, limit int) ([]*execution.Execution, error) {
	query := `
		SELECT id, workflow_id, definition_id, status,
		       initial_data, current_state, error, inserted_at, updated_at
		FROM executions
		WHERE status = $1
		ORDER BY inserted_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions by status: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// DeleteOlderThan removes terminal executions last updated before the cutoff.
func (s *ExecutionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM executions
		WHERE status IN ('completed', 'failed') AND updated_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var (
		exec         execution.Execution
		status       string
		initialData  []byte
		currentState []byte
		errMsg       sql.NullString
	)
	err := row.Scan(
		&exec.ID, &exec.WorkflowID, &exec.DefinitionID, &status,
		&initialData, &currentState, &errMsg, &exec.InsertedAt, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = execution.Status(status)
	exec.Error = errMsg.String
	if len(initialData) > 0 {
		if err := json.Unmarshal(initialData, &exec.InitialData); err != nil {
			return nil, fmt.Errorf("failed to decode initial data: %w", err)
		}
	}
	if len(currentState) > 0 {
		var state engine.State
		if err := json.Unmarshal(currentState, &state); err != nil {
			return nil, fmt.Errorf("failed to decode current state: %w", err)
		}
		exec.CurrentState = &state
	}
	return &exec, nil
}

func scanExecutions(rows *sql.Rows) ([]*execution.Execution, error) {
	var out []*execution.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func marshalState(state *engine.State) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return data, nil
}
