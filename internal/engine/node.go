package engine

import (
	"fmt"

	"github.com/procflow/procflow/internal/platform/logger"
)

// worker is one node actor. Each worker owns a private mailbox and
// processes one token at a time; it never reads another worker's state.
type worker interface {
	spec() NodeSpec
	dispatch(t Token)
	stop()
}

// workerCore carries the state shared by every node kind: the node spec,
// the execute mailbox, and the emitter back into the engine mailbox.
type workerCore struct {
	nodeSpec NodeSpec
	emit     func(message)
	inbox    *mailbox[Token]
	log      logger.Logger
}

func newWorkerCore(spec NodeSpec, emit func(message), log logger.Logger) workerCore {
	return workerCore{
		nodeSpec: spec,
		emit:     emit,
		inbox:    newMailbox[Token](),
		log: log.WithFields(map[string]interface{}{
			"node_id":   spec.ID,
			"node_type": spec.nodeType(),
		}),
	}
}

func (c *workerCore) spec() NodeSpec   { return c.nodeSpec }
func (c *workerCore) dispatch(t Token) { c.inbox.push(t) }
func (c *workerCore) stop()            { c.inbox.close() }

// run drains the mailbox until the worker is stopped.
func (c *workerCore) run(handle func(Token)) {
	for {
		t, ok := c.inbox.pop()
		if !ok {
			return
		}
		handle(t)
	}
}

// forwardAll routes the token onward. A single successor receives the
// token as-is; multiple successors are an implicit parallel split, so each
// branch gets a clone under a fresh id and the parent leaves the census.
// With no successors the branch ends here and the token is dropped.
func (c *workerCore) forwardAll(t Token, next []string) {
	switch len(next) {
	case 0:
		c.log.Warn("no successors, dropping token", "token_id", t.ID)
		c.emit(tokenDropped{token: t})
	case 1:
		c.emit(forwardToken{nodeID: next[0], token: t})
	default:
		for _, nodeID := range next {
			c.emit(forwardToken{nodeID: nodeID, token: t.Clone()})
		}
		c.emit(tokenSplit{nodeID: c.nodeSpec.ID, parent: t})
	}
}

// spawnWorker builds and starts the worker for a node spec.
func spawnWorker(spec NodeSpec, emit func(message), log logger.Logger) (worker, error) {
	switch spec.Kind {
	case NodeKindStart:
		return newStartWorker(spec, emit, log), nil
	case NodeKindEnd:
		return newEndWorker(spec, emit, log), nil
	case NodeKindActivity:
		return newActivityWorker(spec, emit, log)
	case NodeKindGateway:
		return newGatewayWorker(spec, emit, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, spec.Kind)
	}
}
