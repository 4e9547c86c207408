package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/events"
	"github.com/procflow/procflow/internal/execution"
)

// statusUpdate is one engine status transition queued for persistence.
type statusUpdate struct {
	executionID string
	status      engine.Status
	state       engine.State
}

// updateQueue decouples engine loops from the database. Unbounded; the
// engine listener must never block.
type updateQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []statusUpdate
	closed bool
}

func newUpdateQueue() *updateQueue {
	q := &updateQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *updateQueue) push(u statusUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, u)
	q.cond.Signal()
}

// pop blocks until an update is available; after close it drains the
// backlog, then reports false.
func (q *updateQueue) pop() (statusUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return statusUpdate{}, false
	}
	u := q.items[0]
	q.items = q.items[1:]
	return u, true
}

func (q *updateQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// tokenCounts tracks one execution's contribution to the token gauges.
type tokenCounts struct {
	active  int
	waiting int
}

// statusWriter applies queued transitions in order: persists the snapshot,
// publishes lifecycle events, and updates metrics.
func (m *Manager) statusWriter() {
	defer m.wg.Done()

	prev := make(map[string]engine.Status)
	counts := make(map[string]tokenCounts)
	ctx := context.Background()

	for {
		u, ok := m.updates.pop()
		if !ok {
			return
		}

		m.applyUpdate(ctx, u, prev, counts)
	}
}

func (m *Manager) applyUpdate(ctx context.Context, u statusUpdate, prev map[string]engine.Status, counts map[string]tokenCounts) {
	terminal := u.status == engine.StatusCompleted || u.status == engine.StatusFailed

	if m.metrics != nil {
		last := counts[u.executionID]
		next := tokenCounts{active: len(u.state.ActiveTokens), waiting: len(u.state.WaitingTokens)}
		if terminal {
			next = tokenCounts{}
		}
		m.metrics.TokensActive.Add(float64(next.active - last.active))
		m.metrics.TokensWaiting.Add(float64(next.waiting - last.waiting))
		if terminal {
			delete(counts, u.executionID)
			m.metrics.WorkflowsCompleted.WithLabelValues(string(u.status)).Inc()
		} else {
			counts[u.executionID] = next
		}
	}

	if exec, err := m.executions.FindByID(ctx, u.executionID); err == nil {
		exec.Status = execution.FromEngineStatus(u.status)
		state := u.state
		exec.CurrentState = &state
		if err := m.executions.Update(ctx, exec); err != nil {
			m.log.Warn("failed to persist status transition",
				"execution_id", u.executionID,
				"status", string(u.status),
				"error", err,
			)
		}
	}

	m.publishTransition(ctx, u, prev[u.executionID])

	if terminal {
		delete(prev, u.executionID)
		m.markFinished(u.executionID)
	} else {
		prev[u.executionID] = u.status
	}
}

func (m *Manager) publishTransition(ctx context.Context, u statusUpdate, previous engine.Status) {
	var typ events.Type
	switch {
	case u.status == engine.StatusRunning && previous == "":
		// First transition of the execution; everything after flows
		// through this writer, so event order matches status order.
		typ = events.TypeExecutionStarted
	case u.status == engine.StatusRunning && previous == engine.StatusWaiting:
		typ = events.TypeExecutionResumed
	case u.status == engine.StatusRunning:
		return
	default:
		typ = events.ForStatus(u.status)
	}

	m.mu.RLock()
	ent := m.engines[u.executionID]
	m.mu.RUnlock()
	workflowID, definitionID := u.state.WorkflowID, ""
	if ent != nil {
		definitionID = ent.definitionID
	}

	m.publish(ctx, typ, u.executionID, workflowID, definitionID, u.status)
}

// markFinished stamps the entry so the retention sweep can retire it later.
// The engine stays resident until then so clients can still read state.
func (m *Manager) markFinished(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok := m.engines[executionID]; ok && ent.finishedAt.IsZero() {
		ent.finishedAt = time.Now().UTC()
	}
}
