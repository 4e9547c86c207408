// Package definition parses and validates workflow definition documents
// and wires them into running engines.
package definition

import (
	"errors"
	"fmt"

	"github.com/procflow/procflow/internal/engine"
)

// Validation errors.
var (
	ErrNoStartNode      = errors.New("definition has no start node")
	ErrStartNodeMissing = errors.New("start_node_id does not reference a node")
	ErrStartNodeKind    = errors.New("start_node_id must reference a start node")
	ErrDuplicateNodeID  = errors.New("duplicate node id")
	ErrDanglingNext     = errors.New("next_nodes references an unknown node")
	ErrUnknownNodeType  = errors.New("unknown node type")
)

// NodeSpec is the serializable description of one node. Callables are
// referenced by name (work_fn, condition_fn) or carried as expression
// sources (script, conditions); the builder resolves them.
type NodeSpec struct {
	ID           string              `json:"id"`
	Name         string              `json:"name,omitempty"`
	Type         string              `json:"type"`
	ActivityType string              `json:"activity_type,omitempty"`
	GatewayType  string              `json:"gateway_type,omitempty"`
	NextNodes    []string            `json:"next_nodes,omitempty"`
	FormFields   []engine.FormField  `json:"form_fields,omitempty"`
	Script       string              `json:"script,omitempty"`
	WorkFn       string              `json:"work_fn,omitempty"`
	ConditionFn  string              `json:"condition_fn,omitempty"`
	Conditions   map[string]string   `json:"conditions,omitempty"`
}

// Definition is a validated workflow definition.
type Definition struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name,omitempty"`
	StartNodeID string     `json:"start_node_id"`
	Nodes       []NodeSpec `json:"nodes"`
}

// Validate checks the structural invariants: exactly one start node
// referenced by start_node_id, unique node ids, and resolvable next_nodes.
func (d *Definition) Validate() error {
	if d.StartNodeID == "" {
		return ErrNoStartNode
	}

	seen := make(map[string]NodeSpec, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateNodeID, n.ID)
		}
		if _, err := kindOf(n.Type); err != nil {
			return err
		}
		seen[n.ID] = n
	}

	start, ok := seen[d.StartNodeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrStartNodeMissing, d.StartNodeID)
	}
	if start.Type != "start" {
		return fmt.Errorf("%w: %q is a %s node", ErrStartNodeKind, d.StartNodeID, start.Type)
	}

	for _, n := range d.Nodes {
		for _, next := range n.NextNodes {
			if _, ok := seen[next]; !ok {
				return fmt.Errorf("%w: %q -> %q", ErrDanglingNext, n.ID, next)
			}
		}
	}

	return nil
}

// kindOf maps a document node type to the engine node kind. The user_task
// type is an alias for an activity with activity_type=user.
func kindOf(docType string) (engine.NodeKind, error) {
	switch docType {
	case "start":
		return engine.NodeKindStart, nil
	case "end":
		return engine.NodeKindEnd, nil
	case "activity", "user_task":
		return engine.NodeKindActivity, nil
	case "gateway":
		return engine.NodeKindGateway, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNodeType, docType)
	}
}
