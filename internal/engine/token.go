// Package engine implements the token-flow workflow execution core.
//
// Each workflow instance is driven by one Engine backed by a set of node
// workers. The engine and its workers communicate exclusively through typed
// messages over per-recipient mailboxes; tokens carry all data.
package engine

import (
	"time"

	"github.com/google/uuid"
)

// Token is the unit of flow. It carries a payload map and a cursor to the
// node it currently occupies. Tokens are value types: every mutation
// returns a new token.
type Token struct {
	ID          string                 `json:"id"`
	ParentID    string                 `json:"parentId,omitempty"`
	Data        map[string]interface{} `json:"data"`
	CurrentNode string                 `json:"currentNode,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewToken creates a fresh token with the given initial payload.
func NewToken(data map[string]interface{}) Token {
	return Token{
		ID:        uuid.New().String(),
		Data:      copyData(data),
		Timestamp: time.Now().UTC(),
	}
}

// MoveTo returns a copy of the token positioned at the given node.
func (t Token) MoveTo(nodeID string) Token {
	t.CurrentNode = nodeID
	t.Timestamp = time.Now().UTC()
	return t
}

// Merge returns a copy of the token with updates applied to its payload.
// The merge is right-biased and shallow: colliding keys take the updated
// value, nested maps are replaced rather than deep-merged.
func (t Token) Merge(updates map[string]interface{}) Token {
	merged := make(map[string]interface{}, len(t.Data)+len(updates))
	for k, v := range t.Data {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	t.Data = merged
	t.Timestamp = time.Now().UTC()
	return t
}

// Clone returns a copy of the token under a new id, keeping a pointer to
// the parent. Parallel and inclusive gateways clone on fan-out so that
// token ids stay unique downstream of a split.
func (t Token) Clone() Token {
	return Token{
		ID:          uuid.New().String(),
		ParentID:    t.ID,
		Data:        copyData(t.Data),
		CurrentNode: t.CurrentNode,
		Timestamp:   time.Now().UTC(),
	}
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
