package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/procflow/procflow/internal/platform/logger"
)

// Status is the lifecycle status of a workflow instance.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusWaiting     Status = "waiting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// HistoryEntry records one node visit, newest first in State.History.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"nodeId"`
	TokenID   string    `json:"tokenId"`
}

// WaitingEntry pairs a paused token with the activity holding it.
type WaitingEntry struct {
	NodeID string `json:"nodeId"`
	Token  Token  `json:"token"`
}

// State is a snapshot of a running instance.
type State struct {
	WorkflowID      string                  `json:"workflowId"`
	Status          Status                  `json:"status"`
	ActiveTokens    []Token                 `json:"activeTokens"`
	WaitingTokens   map[string]WaitingEntry `json:"waitingTokens"`
	CompletedTokens []Token                 `json:"completedTokens"`
	History         []HistoryEntry          `json:"history"`
}

// StatusSummary is the lightweight status view.
type StatusSummary struct {
	WorkflowID     string `json:"workflowId"`
	Status         Status `json:"status"`
	ActiveCount    int    `json:"activeCount"`
	WaitingCount   int    `json:"waitingCount"`
	CompletedCount int    `json:"completedCount"`
	NodeCount      int    `json:"nodeCount"`
}

// StatusListener observes engine status transitions. It runs on the engine
// goroutine and must not block.
type StatusListener func(workflowID string, status Status, state State)

// Options configures a new engine instance.
type Options struct {
	ExecutionID  string
	Logger       logger.Logger
	Sink         NodeExecutionSink
	Listener     StatusListener
	HistoryLimit int
	SyncTimeout  time.Duration
}

const (
	defaultHistoryLimit = 1000
	defaultSyncTimeout  = 5 * time.Second
)

type handleKey struct {
	nodeID  string
	tokenID string
}

// Engine coordinates one workflow instance: it owns the node table, the
// token census, and the event loop that serializes every state mutation.
type Engine struct {
	workflowID  string
	executionID string
	log         logger.Logger
	sink        NodeExecutionSink
	listener    StatusListener

	historyLimit int
	syncTimeout  time.Duration

	inbox   *mailbox[message]
	stopped atomic.Bool

	workersMu sync.RWMutex
	workers   map[string]worker

	// Loop-owned state; never touched off the engine goroutine.
	startNodeID string
	status      Status
	active      map[string]Token
	waiting     map[string]WaitingEntry
	completed   []Token
	history     []HistoryEntry
	handles     map[handleKey]Handle
}

// New creates an engine for one workflow instance and starts its event loop.
func New(workflowID string, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}

	e := &Engine{
		workflowID:   workflowID,
		executionID:  opts.ExecutionID,
		log:          opts.Logger.WithFields(map[string]interface{}{"workflow_id": workflowID}),
		sink:         opts.Sink,
		listener:     opts.Listener,
		historyLimit: opts.HistoryLimit,
		syncTimeout:  opts.SyncTimeout,
		inbox:        newMailbox[message](),
		workers:      make(map[string]worker),
		status:       StatusInitialized,
		active:       make(map[string]Token),
		waiting:      make(map[string]WaitingEntry),
		handles:      make(map[handleKey]Handle),
	}

	go e.run()
	return e
}

// WorkflowID returns the instance identifier.
func (e *Engine) WorkflowID() string { return e.workflowID }

// emit delivers a message into the engine mailbox.
func (e *Engine) emit(msg message) { e.inbox.push(msg) }

func (e *Engine) run() {
	for {
		msg, ok := e.inbox.pop()
		if !ok {
			return
		}

		switch m := msg.(type) {
		case forwardToken:
			e.handleForward(m)
		case nodeExecuted:
			e.handleNodeExecuted(m)
		case activityWaiting:
			e.handleActivityWaiting(m)
		case activityCompleted:
			e.handleActivityCompleted(m)
		case workflowCompleted:
			e.handleWorkflowCompleted(m)
		case tokenSplit:
			e.handleTokenSplit(m)
		case tokenDropped:
			e.handleTokenDropped(m)
		case addNodeRequest:
			m.reply <- e.handleAddNode(m.spec)
		case startWorkflowRequest:
			m.reply <- e.handleStartWorkflow(m.data)
		case stateRequest:
			m.reply <- e.snapshotState()
		case statusRequest:
			m.reply <- e.snapshotStatus()
		case stopRequest:
			e.shutdown()
			m.reply <- struct{}{}
			return
		}
	}
}

// AddNode registers a node worker. Fails if the id is taken or the kind is
// unknown.
func (e *Engine) AddNode(spec NodeSpec) error {
	req := addNodeRequest{spec: spec, reply: make(chan error, 1)}
	if err := e.send(req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-time.After(e.syncTimeout):
		return ErrTimeout
	}
}

// StartWorkflow creates a fresh token at the start node and returns its id.
// Calling it again on a running instance creates an additional token.
func (e *Engine) StartWorkflow(initialData map[string]interface{}) (string, error) {
	req := startWorkflowRequest{data: initialData, reply: make(chan startWorkflowReply, 1)}
	if err := e.send(req); err != nil {
		return "", err
	}
	select {
	case r := <-req.reply:
		return r.tokenID, r.err
	case <-time.After(e.syncTimeout):
		return "", ErrTimeout
	}
}

// GetState returns a snapshot of the instance state.
func (e *Engine) GetState() (State, error) {
	req := stateRequest{reply: make(chan State, 1)}
	if err := e.send(req); err != nil {
		return State{}, err
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-time.After(e.syncTimeout):
		return State{}, ErrTimeout
	}
}

// GetStatus returns the lightweight status view.
func (e *Engine) GetStatus() (StatusSummary, error) {
	req := statusRequest{reply: make(chan StatusSummary, 1)}
	if err := e.send(req); err != nil {
		return StatusSummary{}, err
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-time.After(e.syncTimeout):
		return StatusSummary{}, ErrTimeout
	}
}

// Stop shuts the engine and its workers down. Pending mailbox messages are
// processed first.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	req := stopRequest{reply: make(chan struct{}, 1)}
	e.inbox.push(req)
	select {
	case <-req.reply:
	case <-time.After(e.syncTimeout):
	}
}

func (e *Engine) send(msg message) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	e.inbox.push(msg)
	return nil
}

// CompleteActivity resumes a token waiting at the given activity with
// external data. The checks mirror the API bridge contract: the token must
// be waiting, and waiting at this exact node.
func (e *Engine) CompleteActivity(nodeID, tokenID string, userData map[string]interface{}) (Token, error) {
	state, err := e.GetState()
	if err != nil {
		return Token{}, err
	}

	entry, ok := state.WaitingTokens[tokenID]
	if !ok {
		return Token{}, ErrTokenNotWaiting
	}
	if entry.NodeID != nodeID {
		return Token{}, ErrTokenAtDifferentNode
	}

	aw, err := e.activityWorker(nodeID)
	if err != nil {
		return Token{}, err
	}
	return aw.Complete(tokenID, userData)
}

// TriggerUserTask is a legacy synonym for completing a user task: it
// resumes the oldest token waiting at the node.
func (e *Engine) TriggerUserTask(nodeID string, userData map[string]interface{}) (Token, error) {
	state, err := e.GetState()
	if err != nil {
		return Token{}, err
	}

	var oldest *Token
	for id := range state.WaitingTokens {
		entry := state.WaitingTokens[id]
		if entry.NodeID != nodeID {
			continue
		}
		if oldest == nil || entry.Token.Timestamp.Before(oldest.Timestamp) {
			t := entry.Token
			oldest = &t
		}
	}
	if oldest == nil {
		return Token{}, ErrTokenNotWaiting
	}

	return e.CompleteActivity(nodeID, oldest.ID, userData)
}

// ListWaiting enumerates tokens paused at externally-completed activities,
// optionally filtered by node id.
func (e *Engine) ListWaiting(nodeID string) []WaitingToken {
	e.workersMu.RLock()
	defer e.workersMu.RUnlock()

	var out []WaitingToken
	for id, w := range e.workers {
		if nodeID != "" && id != nodeID {
			continue
		}
		if aw, ok := w.(*activityWorker); ok && aw.spec().externallyCompleted() {
			out = append(out, aw.WaitingTokens()...)
		}
	}
	return out
}

func (e *Engine) activityWorker(nodeID string) (*activityWorker, error) {
	e.workersMu.RLock()
	w, ok := e.workers[nodeID]
	e.workersMu.RUnlock()

	if !ok {
		return nil, ErrTokenAtDifferentNode
	}
	aw, ok := w.(*activityWorker)
	if !ok || !aw.spec().externallyCompleted() {
		return nil, ErrNotAnActivity
	}
	return aw, nil
}

// Loop-side handlers.

func (e *Engine) handleAddNode(spec NodeSpec) error {
	e.workersMu.RLock()
	_, exists := e.workers[spec.ID]
	e.workersMu.RUnlock()
	if exists {
		return ErrDuplicateNode
	}

	if spec.Kind == NodeKindStart && e.startNodeID != "" {
		return ErrDuplicateStartNode
	}

	w, err := spawnWorker(spec, e.emit, e.log)
	if err != nil {
		return err
	}

	e.workersMu.Lock()
	e.workers[spec.ID] = w
	e.workersMu.Unlock()

	if spec.Kind == NodeKindStart {
		e.startNodeID = spec.ID
	}
	return nil
}

func (e *Engine) handleStartWorkflow(data map[string]interface{}) startWorkflowReply {
	if e.startNodeID == "" {
		return startWorkflowReply{err: ErrNoStartNode}
	}

	t := NewToken(data)
	e.active[t.ID] = t
	e.setStatus(StatusRunning)
	e.emit(forwardToken{nodeID: e.startNodeID, token: t})

	e.log.Info("workflow started", "token_id", t.ID)
	return startWorkflowReply{tokenID: t.ID}
}

func (e *Engine) handleForward(m forwardToken) {
	e.workersMu.RLock()
	w, ok := e.workers[m.nodeID]
	e.workersMu.RUnlock()

	if !ok {
		// Routing to a missing node abandons the branch; the tracker
		// is deliberately not updated.
		e.log.Warn("forward to unknown node, dropping token",
			"node_id", m.nodeID, "token_id", m.token.ID)
		delete(e.active, m.token.ID)
		e.recomputeStatus()
		return
	}

	e.active[m.token.ID] = m.token

	h := e.sink.Start(StartInfo{
		WorkflowID:  e.workflowID,
		ExecutionID: e.executionID,
		TokenID:     m.token.ID,
		NodeID:      m.nodeID,
		NodeType:    w.spec().nodeType(),
		InputData:   m.token.Data,
		StartedAt:   time.Now().UTC(),
	})
	e.handles[handleKey{nodeID: m.nodeID, tokenID: m.token.ID}] = h

	w.dispatch(m.token)
}

func (e *Engine) handleNodeExecuted(m nodeExecuted) {
	e.pushHistory(HistoryEntry{
		Timestamp: time.Now().UTC(),
		NodeID:    m.nodeID,
		TokenID:   m.token.ID,
	})

	if _, ok := e.active[m.token.ID]; ok {
		e.active[m.token.ID] = m.token
	}

	key := handleKey{nodeID: m.nodeID, tokenID: m.token.ID}
	h, ok := e.handles[key]
	if !ok {
		return
	}

	if m.failed {
		e.sink.Fail(h, m.errMsg)
		delete(e.handles, key)
		return
	}

	// Externally-completed activities keep their handle open; the visit
	// is completed when the token resumes.
	e.workersMu.RLock()
	w, known := e.workers[m.nodeID]
	e.workersMu.RUnlock()
	if known && w.spec().externallyCompleted() {
		return
	}

	e.sink.Complete(h, m.token.Data)
	delete(e.handles, key)
}

func (e *Engine) handleActivityWaiting(m activityWaiting) {
	if h, ok := e.handles[handleKey{nodeID: m.nodeID, tokenID: m.token.ID}]; ok {
		e.sink.MarkWaiting(h)
	}

	delete(e.active, m.token.ID)
	e.waiting[m.token.ID] = WaitingEntry{NodeID: m.nodeID, Token: m.token}
	e.recomputeStatus()
}

func (e *Engine) handleActivityCompleted(m activityCompleted) {
	key := handleKey{nodeID: m.nodeID, tokenID: m.token.ID}
	if h, ok := e.handles[key]; ok {
		e.sink.Complete(h, m.token.Data)
		delete(e.handles, key)
	}

	delete(e.waiting, m.token.ID)
	e.active[m.token.ID] = m.token
	e.setStatus(StatusRunning)
}

func (e *Engine) handleWorkflowCompleted(m workflowCompleted) {
	delete(e.active, m.token.ID)
	e.completed = append(e.completed, m.token)
	e.recomputeStatus()

	e.log.Info("token completed", "token_id", m.token.ID, "node_id", m.nodeID)
}

func (e *Engine) handleTokenSplit(m tokenSplit) {
	delete(e.active, m.parent.ID)
	e.recomputeStatus()
}

func (e *Engine) handleTokenDropped(m tokenDropped) {
	delete(e.active, m.token.ID)
	e.recomputeStatus()
}

func (e *Engine) pushHistory(entry HistoryEntry) {
	// Newest first, bounded.
	e.history = append([]HistoryEntry{entry}, e.history...)
	if len(e.history) > e.historyLimit {
		e.history = e.history[:e.historyLimit]
	}
}

// recomputeStatus applies the single status rule after a census mutation.
func (e *Engine) recomputeStatus() {
	switch {
	case len(e.active) == 0 && len(e.waiting) == 0 && len(e.completed) > 0:
		e.setStatus(StatusCompleted)
	case len(e.active) == 0 && len(e.waiting) > 0:
		e.setStatus(StatusWaiting)
	case len(e.active) > 0:
		e.setStatus(StatusRunning)
	}
}

func (e *Engine) setStatus(s Status) {
	if e.status == s {
		return
	}
	e.status = s
	e.log.Debug("status changed", "status", string(s))

	if e.listener != nil {
		e.listener(e.workflowID, s, e.snapshotState())
	}
}

func (e *Engine) snapshotState() State {
	s := State{
		WorkflowID:      e.workflowID,
		Status:          e.status,
		ActiveTokens:    make([]Token, 0, len(e.active)),
		WaitingTokens:   make(map[string]WaitingEntry, len(e.waiting)),
		CompletedTokens: append([]Token(nil), e.completed...),
		History:         append([]HistoryEntry(nil), e.history...),
	}
	for _, t := range e.active {
		s.ActiveTokens = append(s.ActiveTokens, t)
	}
	for id, entry := range e.waiting {
		s.WaitingTokens[id] = entry
	}
	return s
}

func (e *Engine) snapshotStatus() StatusSummary {
	e.workersMu.RLock()
	nodeCount := len(e.workers)
	e.workersMu.RUnlock()

	return StatusSummary{
		WorkflowID:     e.workflowID,
		Status:         e.status,
		ActiveCount:    len(e.active),
		WaitingCount:   len(e.waiting),
		CompletedCount: len(e.completed),
		NodeCount:      nodeCount,
	}
}

func (e *Engine) shutdown() {
	e.stopped.Store(true)

	e.workersMu.Lock()
	for _, w := range e.workers {
		w.stop()
	}
	e.workersMu.Unlock()

	e.inbox.close()
	e.log.Info("engine stopped")
}
