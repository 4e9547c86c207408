// Package execution defines the persisted records of the audit trail: one
// Execution row per workflow instance and one NodeExecution row per node
// visit.
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/procflow/procflow/internal/engine"
)

// Status is the execution status vocabulary. It mirrors the engine status
// set; the persistence layer never invents additional states.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusWaiting     Status = "waiting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// NodeStatus is the node-execution status vocabulary.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusExecuting NodeStatus = "executing"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusWaiting   NodeStatus = "waiting"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// DefinitionRecord is a stored workflow definition document.
type DefinitionRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Document   []byte    `json:"document"`
	InsertedAt time.Time `json:"insertedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Execution is the persisted state of one workflow instance.
type Execution struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflowId"`
	DefinitionID string                 `json:"definitionId"`
	Status       Status                 `json:"status"`
	InitialData  map[string]interface{} `json:"initialData,omitempty"`
	CurrentState *engine.State          `json:"currentState,omitempty"`
	Error        string                 `json:"error,omitempty"`
	InsertedAt   time.Time              `json:"insertedAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// NewExecution creates an execution record in the initialized status.
func NewExecution(workflowID, definitionID string, initialData map[string]interface{}) *Execution {
	now := time.Now().UTC()
	return &Execution{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		DefinitionID: definitionID,
		Status:       StatusInitialized,
		InitialData:  initialData,
		InsertedAt:   now,
		UpdatedAt:    now,
	}
}

// NodeExecution is the audit record of one node visit by one token.
type NodeExecution struct {
	ID           string                 `json:"id"`
	ExecutionID  string                 `json:"executionId"`
	WorkflowID   string                 `json:"workflowId"`
	TokenID      string                 `json:"tokenId"`
	NodeID       string                 `json:"nodeId"`
	NodeType     string                 `json:"nodeType"`
	Status       NodeStatus             `json:"status"`
	InputData    map[string]interface{} `json:"inputData,omitempty"`
	OutputData   map[string]interface{} `json:"outputData,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	StartedAt    *time.Time             `json:"startedAt,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	DurationMs   int64                  `json:"durationMs"`
}

// FromEngineStatus maps an engine status to the execution vocabulary.
func FromEngineStatus(s engine.Status) Status {
	switch s {
	case engine.StatusInitialized:
		return StatusInitialized
	case engine.StatusRunning:
		return StatusRunning
	case engine.StatusWaiting:
		return StatusWaiting
	case engine.StatusCompleted:
		return StatusCompleted
	case engine.StatusFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
