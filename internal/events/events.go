// Package events defines the workflow lifecycle events published to the
// message bus.
package events

import (
	"context"
	"time"

	"github.com/procflow/procflow/internal/engine"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeExecutionStarted   Type = "execution.started"
	TypeExecutionWaiting   Type = "execution.waiting"
	TypeExecutionResumed   Type = "execution.resumed"
	TypeExecutionCompleted Type = "execution.completed"
	TypeExecutionFailed    Type = "execution.failed"
)

// Event is one workflow lifecycle event.
type Event struct {
	ID           string        `json:"id"`
	Type         Type          `json:"type"`
	WorkflowID   string        `json:"workflowId"`
	ExecutionID  string        `json:"executionId"`
	DefinitionID string        `json:"definitionId"`
	Status       engine.Status `json:"status"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Publisher publishes lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }
func (NopPublisher) Close() error                          { return nil }

// ForStatus maps an engine status transition to the matching event type.
// The resumed type is reported by the caller when a waiting execution
// returns to running; this helper covers the direct mappings.
func ForStatus(status engine.Status) Type {
	switch status {
	case engine.StatusWaiting:
		return TypeExecutionWaiting
	case engine.StatusCompleted:
		return TypeExecutionCompleted
	case engine.StatusFailed:
		return TypeExecutionFailed
	default:
		return TypeExecutionResumed
	}
}
