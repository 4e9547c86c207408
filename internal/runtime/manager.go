// Package runtime hosts the engine table: it starts executions from stored
// definitions, bridges external activity completions, persists status
// transitions, and retires finished engines.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/procflow/procflow/internal/definition"
	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/events"
	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/platform/metrics"
	"github.com/procflow/procflow/internal/store"
)

// ErrExecutionFinished is returned for operations on an execution whose
// engine has been retired.
var ErrExecutionFinished = errors.New("execution is no longer running")

// entry is one live engine plus the bookkeeping the sweeper needs.
type entry struct {
	engine       *engine.Engine
	workflowID   string
	definitionID string
	finishedAt   time.Time
}

// Manager owns all live engines in the process.
type Manager struct {
	cfg       config.Config
	log       logger.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher

	definitions    store.DefinitionStore
	executions     store.ExecutionStore
	nodeExecutions store.NodeExecutionStore

	builder *definition.Builder
	sink    engine.NodeExecutionSink

	mu      sync.RWMutex
	engines map[string]*entry

	updates *updateQueue
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// Options wires the manager's collaborators. Publisher, Metrics, and Sink
// may be nil.
type Options struct {
	Config         config.Config
	Logger         logger.Logger
	Metrics        *metrics.Metrics
	Publisher      events.Publisher
	Definitions    store.DefinitionStore
	Executions     store.ExecutionStore
	NodeExecutions store.NodeExecutionStore
	Builder        *definition.Builder
	Sink           engine.NodeExecutionSink
}

// New creates a manager and starts its status writer.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Sink == nil {
		opts.Sink = engine.NopSink{}
	}

	m := &Manager{
		cfg:            opts.Config,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		publisher:      opts.Publisher,
		definitions:    opts.Definitions,
		executions:     opts.Executions,
		nodeExecutions: opts.NodeExecutions,
		builder:        opts.Builder,
		sink:           opts.Sink,
		engines:        make(map[string]*entry),
		updates:        newUpdateQueue(),
		cron:           cron.New(),
	}

	m.wg.Add(1)
	go m.statusWriter()

	return m
}

// Start schedules the retention sweep.
func (m *Manager) Start() error {
	schedule := m.cfg.Retention.Schedule
	if schedule == "" {
		schedule = "@every 10m"
	}
	if _, err := m.cron.AddFunc(schedule, m.sweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the sweeper, stops every live engine, and drains the status
// writer.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()

	m.mu.Lock()
	engines := make([]*entry, 0, len(m.engines))
	for _, ent := range m.engines {
		engines = append(engines, ent)
	}
	m.engines = make(map[string]*entry)
	m.mu.Unlock()

	for _, ent := range engines {
		ent.engine.Stop()
	}

	m.updates.close()
	m.wg.Wait()
}

// CreateDefinition validates and stores a definition document.
func (m *Manager) CreateDefinition(ctx context.Context, document []byte) (*execution.DefinitionRecord, error) {
	def, err := definition.Parse(document)
	if err != nil {
		return nil, err
	}

	id := def.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	rec := &execution.DefinitionRecord{
		ID:         id,
		Name:       def.Name,
		Document:   document,
		InsertedAt: now,
		UpdatedAt:  now,
	}
	if err := m.definitions.Save(ctx, rec); err != nil {
		return nil, err
	}

	m.log.Info("definition saved", "definition_id", rec.ID, "name", rec.Name)
	return rec, nil
}

// GetDefinition returns a stored definition.
func (m *Manager) GetDefinition(ctx context.Context, id string) (*execution.DefinitionRecord, error) {
	return m.definitions.FindByID(ctx, id)
}

// ListDefinitions returns stored definitions, newest first.
func (m *Manager) ListDefinitions(ctx context.Context, limit, offset int) ([]*execution.DefinitionRecord, error) {
	return m.definitions.List(ctx, limit, offset)
}

// DeleteDefinition removes a stored definition. Running executions keep
// their already-built engines.
func (m *Manager) DeleteDefinition(ctx context.Context, id string) error {
	return m.definitions.Delete(ctx, id)
}

// StartExecution builds an engine from a stored definition and starts one
// token at its start node.
func (m *Manager) StartExecution(ctx context.Context, definitionID string, initialData map[string]interface{}) (*execution.Execution, error) {
	rec, err := m.definitions.FindByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	def, err := definition.Parse(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("stored definition %q is invalid: %w", definitionID, err)
	}

	workflowID := uuid.New().String()
	exec := execution.NewExecution(workflowID, definitionID, initialData)

	eng, err := m.builder.Build(workflowID, def, engine.Options{
		ExecutionID:  exec.ID,
		Logger:       m.log,
		Sink:         m.sink,
		Listener:     m.listener(exec.ID),
		HistoryLimit: m.cfg.Engine.HistoryLimit,
		SyncTimeout:  m.cfg.Engine.SyncTimeout,
	})
	if err != nil {
		return nil, err
	}

	if err := m.executions.Create(ctx, exec); err != nil {
		eng.Stop()
		return nil, err
	}

	m.mu.Lock()
	m.engines[exec.ID] = &entry{
		engine:       eng,
		workflowID:   workflowID,
		definitionID: definitionID,
	}
	m.mu.Unlock()

	if _, err := eng.StartWorkflow(initialData); err != nil {
		m.retire(exec.ID)
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.WorkflowsStarted.WithLabelValues(definitionID).Inc()
	}

	m.log.Info("execution started",
		"execution_id", exec.ID,
		"definition_id", definitionID,
		"workflow_id", workflowID,
	)
	return exec, nil
}

// GetExecution returns an execution, with live state when the engine is
// still running.
func (m *Manager) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	exec, err := m.executions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	ent, live := m.engines[id]
	m.mu.RUnlock()
	if live {
		if state, err := ent.engine.GetState(); err == nil {
			exec.Status = execution.FromEngineStatus(state.Status)
			exec.CurrentState = &state
		}
	}
	return exec, nil
}

// ListExecutions returns executions, newest first.
func (m *Manager) ListExecutions(ctx context.Context, limit, offset int) ([]*execution.Execution, error) {
	return m.executions.List(ctx, limit, offset)
}

// ListNodeExecutions returns the audit trail of one execution.
func (m *Manager) ListNodeExecutions(ctx context.Context, executionID string) ([]*execution.NodeExecution, error) {
	return m.nodeExecutions.ListByExecution(ctx, executionID)
}

// CompleteActivity resumes a specific waiting token with external data.
func (m *Manager) CompleteActivity(executionID, nodeID, tokenID string, userData map[string]interface{}) (engine.Token, error) {
	ent, err := m.live(executionID)
	if err != nil {
		return engine.Token{}, err
	}
	return ent.engine.CompleteActivity(nodeID, tokenID, userData)
}

// TriggerUserTask resumes the oldest token waiting at a node.
func (m *Manager) TriggerUserTask(executionID, nodeID string, userData map[string]interface{}) (engine.Token, error) {
	ent, err := m.live(executionID)
	if err != nil {
		return engine.Token{}, err
	}
	return ent.engine.TriggerUserTask(nodeID, userData)
}

// ListWaiting enumerates tokens paused for external completion.
func (m *Manager) ListWaiting(executionID, nodeID string) ([]engine.WaitingToken, error) {
	ent, err := m.live(executionID)
	if err != nil {
		return nil, err
	}
	return ent.engine.ListWaiting(nodeID), nil
}

// CancelExecution stops a live engine and marks the execution failed.
func (m *Manager) CancelExecution(ctx context.Context, executionID string) error {
	ent, err := m.live(executionID)
	if err != nil {
		return err
	}

	state, _ := ent.engine.GetState()
	m.retire(executionID)

	exec, err := m.executions.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	exec.Status = execution.StatusFailed
	exec.Error = "canceled"
	exec.CurrentState = &state
	if err := m.executions.Update(ctx, exec); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.WorkflowsCompleted.WithLabelValues(string(execution.StatusFailed)).Inc()
	}
	m.publish(ctx, events.TypeExecutionFailed, executionID, ent.workflowID, ent.definitionID, engine.StatusFailed)

	m.log.Info("execution canceled", "execution_id", executionID)
	return nil
}

// Reconcile marks records orphaned by a previous process as failed. Engines
// live only in memory, so any row still claiming progress at boot is stale.
func (m *Manager) Reconcile(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.Retention.DanglingMaxAge)

	if m.nodeExecutions != nil {
		n, err := m.nodeExecutions.ReconcileDangling(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to reconcile node executions: %w", err)
		}
		if n > 0 {
			m.log.Warn("reconciled dangling node executions", "count", n)
		}
	}

	for _, status := range []execution.Status{execution.StatusInitialized, execution.StatusRunning, execution.StatusWaiting} {
		execs, err := m.executions.ListByStatus(ctx, status, 0)
		if err != nil {
			return fmt.Errorf("failed to list %s executions: %w", status, err)
		}
		for _, exec := range execs {
			if exec.UpdatedAt.After(cutoff) {
				continue
			}
			exec.Status = execution.StatusFailed
			exec.Error = "interrupted by restart"
			if err := m.executions.Update(ctx, exec); err != nil {
				m.log.Warn("failed to mark execution failed", "execution_id", exec.ID, "error", err)
			}
		}
	}
	return nil
}

func (m *Manager) live(executionID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.engines[executionID]
	if !ok {
		return nil, ErrExecutionFinished
	}
	return ent, nil
}

// retire stops and removes a live engine.
func (m *Manager) retire(executionID string) {
	m.mu.Lock()
	ent, ok := m.engines[executionID]
	delete(m.engines, executionID)
	m.mu.Unlock()
	if ok {
		ent.engine.Stop()
	}
}

// listener returns the engine status listener for one execution. It runs on
// the engine loop, so it only enqueues.
func (m *Manager) listener(executionID string) engine.StatusListener {
	return func(_ string, status engine.Status, state engine.State) {
		m.updates.push(statusUpdate{
			executionID: executionID,
			status:      status,
			state:       state,
		})
	}
}

// sweep retires engines that reached a terminal status longer ago than the
// retention window, and optionally prunes old terminal rows.
func (m *Manager) sweep() {
	cutoff := time.Now().UTC().Add(-m.cfg.Retention.EngineMaxAge)

	m.mu.Lock()
	var expired []*entry
	for id, ent := range m.engines {
		if !ent.finishedAt.IsZero() && ent.finishedAt.Before(cutoff) {
			expired = append(expired, ent)
			delete(m.engines, id)
		}
	}
	m.mu.Unlock()

	for _, ent := range expired {
		ent.engine.Stop()
	}
	if len(expired) > 0 {
		m.log.Info("retired finished engines", "count", len(expired))
	}

	if m.cfg.Retention.RecordMaxAge > 0 {
		recordCutoff := time.Now().UTC().Add(-m.cfg.Retention.RecordMaxAge)
		n, err := m.executions.DeleteOlderThan(context.Background(), recordCutoff)
		if err != nil {
			m.log.Warn("failed to prune old executions", "error", err)
		} else if n > 0 {
			m.log.Info("pruned old executions", "count", n)
		}
	}
}

func (m *Manager) publish(ctx context.Context, typ events.Type, executionID, workflowID, definitionID string, status engine.Status) {
	err := m.publisher.Publish(ctx, &events.Event{
		Type:         typ,
		WorkflowID:   workflowID,
		ExecutionID:  executionID,
		DefinitionID: definitionID,
		Status:       status,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		m.log.Warn("failed to publish lifecycle event", "type", string(typ), "error", err)
	}
}

// MarshalDefinition is a convenience for tests and seeds: it serializes a
// definition back into a document.
func MarshalDefinition(def *definition.Definition) ([]byte, error) {
	return json.Marshal(def)
}
