package engine

import "errors"

// Error taxonomy surfaced by the engine and its workers.
var (
	// ErrUnknownNodeType is returned by AddNode for an unrecognized kind.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrDuplicateNode is returned by AddNode when the id is already registered.
	ErrDuplicateNode = errors.New("node already registered")

	// ErrDuplicateStartNode is returned by AddNode for a second start event.
	ErrDuplicateStartNode = errors.New("start node already registered")

	// ErrNoStartNode is returned by StartWorkflow on an engine without a start event.
	ErrNoStartNode = errors.New("no start node")

	// ErrTokenNotFound is returned by Complete for a token id the worker does not hold.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenNotWaiting is returned when completing a token that is active or completed.
	ErrTokenNotWaiting = errors.New("token is not waiting")

	// ErrTokenAtDifferentNode is returned when completing a token at the wrong node.
	ErrTokenAtDifferentNode = errors.New("token is waiting at a different node")

	// ErrNotAnActivity is returned when a completion targets a non-activity node.
	ErrNotAnActivity = errors.New("node is not an externally-completed activity")

	// ErrTimeout is returned when a synchronous engine call exceeds its deadline.
	ErrTimeout = errors.New("engine call timed out")

	// ErrEngineStopped is returned when calling into a stopped engine.
	ErrEngineStopped = errors.New("engine is stopped")
)
