package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/procflow/procflow/internal/platform/logger"
)

// WaitingToken is the API snapshot of one token paused at an activity.
type WaitingToken struct {
	ID           string                 `json:"id"`
	Data         map[string]interface{} `json:"data"`
	Timestamp    time.Time              `json:"timestamp"`
	NodeID       string                 `json:"nodeId"`
	ActivityType ActivityType           `json:"activityType"`
	FormFields   []FormField            `json:"formFields,omitempty"`
}

// activityWorker implements the four activity variants. Service and script
// run their work function inline on the worker goroutine; user and manual
// park the token until Complete is called from the API bridge.
type activityWorker struct {
	workerCore

	mu      sync.Mutex
	waiting map[string]Token
}

func newActivityWorker(spec NodeSpec, emit func(message), log logger.Logger) (*activityWorker, error) {
	switch spec.ActivityType {
	case ActivityTypeService, ActivityTypeScript, ActivityTypeUser, ActivityTypeManual:
	default:
		return nil, fmt.Errorf("%w: activity type %q", ErrUnknownNodeType, spec.ActivityType)
	}

	w := &activityWorker{
		workerCore: newWorkerCore(spec, emit, log),
		waiting:    make(map[string]Token),
	}
	go w.run(w.execute)
	return w, nil
}

func (w *activityWorker) execute(t Token) {
	t = t.MoveTo(w.nodeSpec.ID)

	if w.nodeSpec.externallyCompleted() {
		w.mu.Lock()
		w.waiting[t.ID] = t
		w.mu.Unlock()

		w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t})
		w.emit(activityWaiting{nodeID: w.nodeSpec.ID, token: t})
		return
	}

	updates, err := w.runWork(t)
	if err != nil {
		// A failing work function poisons the token instead of
		// crashing the worker; the flow continues.
		w.log.Warn("work function failed", "token_id", t.ID, "error", err)
		t = t.Merge(map[string]interface{}{"error": err.Error()})
		w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t, failed: true, errMsg: err.Error()})
	} else {
		if len(updates) > 0 {
			t = t.Merge(updates)
		}
		w.emit(nodeExecuted{nodeID: w.nodeSpec.ID, token: t})
	}

	w.forwardAll(t, w.nodeSpec.Next)
}

// runWork invokes the work function with panic containment. A nil work
// function passes the token through unchanged.
func (w *activityWorker) runWork(t Token) (updates map[string]interface{}, err error) {
	if w.nodeSpec.Work == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work function panic: %v", r)
		}
	}()

	return w.nodeSpec.Work(t)
}

// Complete resumes a waiting token with external data. It is called
// synchronously from the API bridge, merges userData into the token,
// notifies the engine, and forwards the token to the successors.
func (w *activityWorker) Complete(tokenID string, userData map[string]interface{}) (Token, error) {
	w.mu.Lock()
	t, ok := w.waiting[tokenID]
	if !ok {
		w.mu.Unlock()
		return Token{}, ErrTokenNotFound
	}
	delete(w.waiting, tokenID)
	w.mu.Unlock()

	if len(userData) > 0 {
		t = t.Merge(userData)
	}

	w.emit(activityCompleted{nodeID: w.nodeSpec.ID, token: t})
	w.forwardAll(t, w.nodeSpec.Next)

	return t, nil
}

// WaitingTokens returns a snapshot of the tokens parked at this activity.
func (w *activityWorker) WaitingTokens() []WaitingToken {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WaitingToken, 0, len(w.waiting))
	for _, t := range w.waiting {
		out = append(out, WaitingToken{
			ID:           t.ID,
			Data:         t.Data,
			Timestamp:    t.Timestamp,
			NodeID:       w.nodeSpec.ID,
			ActivityType: w.nodeSpec.ActivityType,
			FormFields:   w.nodeSpec.FormFields,
		})
	}
	return out
}
