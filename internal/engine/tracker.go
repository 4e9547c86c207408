package engine

import "time"

// Handle identifies one tracked node visit. A nil handle is valid: every
// sink call on it is a no-op, so a failed Start degrades to silence rather
// than blocking the flow.
type Handle interface{}

// StartInfo describes a node visit about to execute.
type StartInfo struct {
	WorkflowID  string
	ExecutionID string
	TokenID     string
	NodeID      string
	NodeType    string
	InputData   map[string]interface{}
	StartedAt   time.Time
}

// NodeExecutionSink receives the per-node lifecycle stream. Implementations
// must not block the engine loop indefinitely; dispatch to an external
// writer with best-effort delivery.
type NodeExecutionSink interface {
	Start(info StartInfo) Handle
	Complete(h Handle, outputData map[string]interface{})
	Fail(h Handle, errorMessage string)
	MarkWaiting(h Handle)
	MarkSkipped(h Handle)
}

// NopSink discards all tracker events.
type NopSink struct{}

func (NopSink) Start(StartInfo) Handle                  { return nil }
func (NopSink) Complete(Handle, map[string]interface{}) {}
func (NopSink) Fail(Handle, string)                     {}
func (NopSink) MarkWaiting(Handle)                      {}
func (NopSink) MarkSkipped(Handle)                      {}
