// Package store defines the persistence interfaces the engine core depends
// on, plus the in-memory implementations used for tests and demo mode.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/procflow/procflow/internal/execution"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DefinitionStore persists workflow definition documents.
type DefinitionStore interface {
	Save(ctx context.Context, record *execution.DefinitionRecord) error
	FindByID(ctx context.Context, id string) (*execution.DefinitionRecord, error)
	List(ctx context.Context, limit, offset int) ([]*execution.DefinitionRecord, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionStore persists workflow execution records.
type ExecutionStore interface {
	Create(ctx context.Context, exec *execution.Execution) error
	Update(ctx context.Context, exec *execution.Execution) error
	FindByID(ctx context.Context, id string) (*execution.Execution, error)
	List(ctx context.Context, limit, offset int) ([]*execution.Execution, error)
	ListByStatus(ctx context.Context, status execution.Status, limit int) ([]*execution.Execution, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// NodeExecutionStore persists the per-node audit trail.
type NodeExecutionStore interface {
	Create(ctx context.Context, rec *execution.NodeExecution) error
	Update(ctx context.Context, rec *execution.NodeExecution) error
	FindByID(ctx context.Context, id string) (*execution.NodeExecution, error)
	ListByExecution(ctx context.Context, executionID string) ([]*execution.NodeExecution, error)
	// ReconcileDangling marks executing rows older than the cutoff as
	// failed. Used at boot; the audit trail stays visible but no longer
	// pretends the work is in flight.
	ReconcileDangling(ctx context.Context, cutoff time.Time) (int, error)
}
