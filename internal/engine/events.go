package engine

import "github.com/procflow/procflow/internal/platform/logger"

// startWorker is the entry node. It reports its own execution and forwards
// the token to every successor; more than one successor is an implicit
// parallel split.
type startWorker struct {
	workerCore
}

func newStartWorker(spec NodeSpec, emit func(message), log logger.Logger) *startWorker {
	w := &startWorker{workerCore: newWorkerCore(spec, emit, log)}
	go w.run(w.execute)
	return w
}

func (w *startWorker) execute(t Token) {
	t = t.MoveTo(w.nodeSpec.ID)
	w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t})
	w.forwardAll(t, w.nodeSpec.Next)
}

// endWorker terminates a flow path. No forwards; the engine accepts any
// number of end nodes per definition.
type endWorker struct {
	workerCore
}

func newEndWorker(spec NodeSpec, emit func(message), log logger.Logger) *endWorker {
	w := &endWorker{workerCore: newWorkerCore(spec, emit, log)}
	go w.run(w.execute)
	return w
}

func (w *endWorker) execute(t Token) {
	t = t.MoveTo(w.nodeSpec.ID)
	w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t})
	w.emit(workflowCompleted{nodeID: w.nodeSpec.ID, token: t})
}
