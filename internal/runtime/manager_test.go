package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/callable"
	"github.com/procflow/procflow/internal/definition"
	"github.com/procflow/procflow/internal/events"
	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/config"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recordingPublisher captures lifecycle events.
type recordingPublisher struct {
	mu    sync.Mutex
	types []events.Type
}

func (p *recordingPublisher) Publish(_ context.Context, ev *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, ev.Type)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seen() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Type(nil), p.types...)
}

type managerFixture struct {
	manager     *Manager
	executions  *store.MemoryExecutionStore
	definitions *store.MemoryDefinitionStore
	nodes       *store.MemoryNodeExecutionStore
	publisher   *recordingPublisher
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()

	f := &managerFixture{
		executions:  store.NewMemoryExecutionStore(),
		definitions: store.NewMemoryDefinitionStore(),
		nodes:       store.NewMemoryNodeExecutionStore(),
		publisher:   &recordingPublisher{},
	}

	cfg := config.Config{
		Engine: config.EngineConfig{HistoryLimit: 100, SyncTimeout: 2 * time.Second},
		Retention: config.RetentionConfig{
			Schedule:       "@every 1h",
			EngineMaxAge:   time.Hour,
			DanglingMaxAge: 10 * time.Minute,
		},
	}

	f.manager = New(Options{
		Config:         cfg,
		Logger:         logger.NewNop(),
		Publisher:      f.publisher,
		Definitions:    f.definitions,
		Executions:     f.executions,
		NodeExecutions: f.nodes,
		Builder:        definition.NewBuilder(callable.NewRegistry()),
	})
	t.Cleanup(f.manager.Stop)
	return f
}

const linearDoc = `{
	"name": "linear",
	"start_node_id": "start",
	"nodes": [
		{"id": "start", "type": "start", "next_nodes": ["task"]},
		{"id": "task", "type": "activity", "next_nodes": ["end"]},
		{"id": "end", "type": "end"}
	]
}`

const approvalDoc = `{
	"name": "approval",
	"start_node_id": "start",
	"nodes": [
		{"id": "start", "type": "start", "next_nodes": ["approve"]},
		{"id": "approve", "type": "user_task", "next_nodes": ["end"]},
		{"id": "end", "type": "end"}
	]
}`

func (f *managerFixture) waitExecutionStatus(t *testing.T, id string, want execution.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		exec, err := f.executions.FindByID(context.Background(), id)
		return err == nil && exec.Status == want
	}, waitFor, tick, "execution never reached %s", want)
}

func TestStartExecutionRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.CreateDefinition(ctx, []byte(linearDoc))
	require.NoError(t, err)
	assert.Equal(t, "linear", rec.Name)

	exec, err := f.manager.StartExecution(ctx, rec.ID, map[string]interface{}{"input": 7})
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusCompleted)

	stored, err := f.executions.FindByID(ctx, exec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CurrentState)
	require.Len(t, stored.CurrentState.CompletedTokens, 1)
	assert.Equal(t, 7, stored.CurrentState.CompletedTokens[0].Data["input"])
}

func TestStartExecutionUnknownDefinition(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.StartExecution(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateDefinitionRejectsInvalidDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.CreateDefinition(context.Background(), []byte(`{"nodes": []}`))
	assert.Error(t, err)
}

func TestUserTaskBridge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.CreateDefinition(ctx, []byte(approvalDoc))
	require.NoError(t, err)

	exec, err := f.manager.StartExecution(ctx, rec.ID, nil)
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusWaiting)

	waiting, err := f.manager.ListWaiting(exec.ID, "")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "approve", waiting[0].NodeID)

	tok, err := f.manager.CompleteActivity(exec.ID, "approve", waiting[0].ID, map[string]interface{}{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, true, tok.Data["approved"])

	f.waitExecutionStatus(t, exec.ID, execution.StatusCompleted)

	require.Eventually(t, func() bool {
		types := f.publisher.seen()
		return len(types) == 4
	}, waitFor, tick)
	assert.Equal(t, []events.Type{
		events.TypeExecutionStarted,
		events.TypeExecutionWaiting,
		events.TypeExecutionResumed,
		events.TypeExecutionCompleted,
	}, f.publisher.seen())
}

func TestTriggerUserTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.CreateDefinition(ctx, []byte(approvalDoc))
	require.NoError(t, err)
	exec, err := f.manager.StartExecution(ctx, rec.ID, nil)
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusWaiting)

	_, err = f.manager.TriggerUserTask(exec.ID, "approve", nil)
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusCompleted)
}

func TestGetExecutionReportsLiveState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.CreateDefinition(ctx, []byte(approvalDoc))
	require.NoError(t, err)
	exec, err := f.manager.StartExecution(ctx, rec.ID, nil)
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusWaiting)

	got, err := f.manager.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusWaiting, got.Status)
	require.NotNil(t, got.CurrentState)
	assert.Len(t, got.CurrentState.WaitingTokens, 1)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.manager.CreateDefinition(ctx, []byte(approvalDoc))
	require.NoError(t, err)
	exec, err := f.manager.StartExecution(ctx, rec.ID, nil)
	require.NoError(t, err)

	f.waitExecutionStatus(t, exec.ID, execution.StatusWaiting)
	require.NoError(t, f.manager.CancelExecution(ctx, exec.ID))

	stored, err := f.executions.FindByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, stored.Status)
	assert.Equal(t, "canceled", stored.Error)

	_, err = f.manager.ListWaiting(exec.ID, "")
	assert.ErrorIs(t, err, ErrExecutionFinished)

	err = f.manager.CancelExecution(ctx, exec.ID)
	assert.ErrorIs(t, err, ErrExecutionFinished)
}

func TestReconcileMarksDanglingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := execution.NewExecution("wf-stale", "def-1", nil)
	stale.Status = execution.StatusRunning
	stale.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.executions.Create(ctx, stale))

	startedAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.nodes.Create(ctx, &execution.NodeExecution{
		ID:          "ne-1",
		ExecutionID: stale.ID,
		NodeID:      "task",
		Status:      execution.NodeStatusExecuting,
		StartedAt:   &startedAt,
	}))

	require.NoError(t, f.manager.Reconcile(ctx))

	got, err := f.executions.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	trail, err := f.nodes.ListByExecution(ctx, stale.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, execution.NodeStatusFailed, trail[0].Status)
}

func TestReconcileSparesRecentExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := execution.NewExecution("wf-fresh", "def-1", nil)
	fresh.Status = execution.StatusWaiting
	require.NoError(t, f.executions.Create(ctx, fresh))

	require.NoError(t, f.manager.Reconcile(ctx))

	got, err := f.executions.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusWaiting, got.Status)
}
