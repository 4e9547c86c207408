package engine

import (
	"fmt"

	"github.com/procflow/procflow/internal/platform/logger"
)

// gatewayWorker routes tokens; it never pauses them.
type gatewayWorker struct {
	workerCore
}

func newGatewayWorker(spec NodeSpec, emit func(message), log logger.Logger) (*gatewayWorker, error) {
	switch spec.GatewayType {
	case GatewayTypeExclusive, GatewayTypeParallel, GatewayTypeInclusive:
	default:
		return nil, fmt.Errorf("%w: gateway type %q", ErrUnknownNodeType, spec.GatewayType)
	}

	w := &gatewayWorker{workerCore: newWorkerCore(spec, emit, log)}
	go w.run(w.execute)
	return w, nil
}

func (w *gatewayWorker) execute(t Token) {
	t = t.MoveTo(w.nodeSpec.ID)
	w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t})

	switch w.nodeSpec.GatewayType {
	case GatewayTypeExclusive:
		w.routeExclusive(t)
	case GatewayTypeParallel:
		w.forwardAll(t, w.nodeSpec.Next)
	case GatewayTypeInclusive:
		w.routeInclusive(t)
	}
}

// routeExclusive forwards to the first successor, in declaration order,
// whose condition holds. Without a condition function any non-empty
// candidate matches. When nothing matches the token falls back to the
// first successor; existing definitions rely on that policy.
func (w *gatewayWorker) routeExclusive(t Token) {
	next := w.nodeSpec.Next
	if len(next) == 0 {
		w.log.Warn("exclusive gateway has no successors, dropping token", "token_id", t.ID)
		w.emit(tokenDropped{token: t})
		return
	}

	for _, candidate := range next {
		if w.matches(t, candidate) {
			w.emit(forwardToken{nodeID: candidate, token: t})
			return
		}
	}

	w.log.Warn("no condition matched, falling back to first successor",
		"token_id", t.ID, "fallback", next[0])
	w.emit(forwardToken{nodeID: next[0], token: t})
}

// routeInclusive forwards to every successor whose condition holds; when
// none match, all successors receive the token.
func (w *gatewayWorker) routeInclusive(t Token) {
	var matched []string
	for _, candidate := range w.nodeSpec.Next {
		if w.matches(t, candidate) {
			matched = append(matched, candidate)
		}
	}

	if len(matched) == 0 {
		w.log.Warn("no inclusive condition matched, forwarding to all successors", "token_id", t.ID)
		matched = w.nodeSpec.Next
	}

	w.forwardAll(t, matched)
}

func (w *gatewayWorker) matches(t Token, candidate string) bool {
	if w.nodeSpec.Condition == nil {
		return candidate != ""
	}
	return w.nodeSpec.Condition(t, candidate)
}
