package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/execution"
)

func TestMemoryDefinitionStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDefinitionStore()

	now := time.Now().UTC()
	rec := &execution.DefinitionRecord{
		ID:         "def-1",
		Name:       "approval",
		Document:   []byte(`{"start_node_id":"start","nodes":[]}`),
		InsertedAt: now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.FindByID(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, "approval", got.Name)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, "def-1"))
	assert.ErrorIs(t, s.Delete(ctx, "def-1"), ErrNotFound)
}

func TestMemoryDefinitionStoreSaveUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDefinitionStore()

	rec := &execution.DefinitionRecord{ID: "def-1", Name: "v1"}
	require.NoError(t, s.Save(ctx, rec))

	rec.Name = "v2"
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.FindByID(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
}

func TestMemoryExecutionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	exec := execution.NewExecution("wf-1", "def-1", map[string]interface{}{"a": 1})
	require.NoError(t, s.Create(ctx, exec))

	got, err := s.FindByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusInitialized, got.Status)

	exec.Status = execution.StatusCompleted
	require.NoError(t, s.Update(ctx, exec))

	got, err = s.FindByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, got.Status)

	assert.ErrorIs(t, s.Update(ctx, &execution.Execution{ID: "missing"}), ErrNotFound)
}

func TestMemoryExecutionStoreListByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	running := execution.NewExecution("wf-1", "def-1", nil)
	running.Status = execution.StatusRunning
	require.NoError(t, s.Create(ctx, running))

	waiting := execution.NewExecution("wf-2", "def-1", nil)
	waiting.Status = execution.StatusWaiting
	require.NoError(t, s.Create(ctx, waiting))

	got, err := s.ListByStatus(ctx, execution.StatusWaiting, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, waiting.ID, got[0].ID)
}

func TestMemoryExecutionStoreDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()

	old := execution.NewExecution("wf-old", "def-1", nil)
	old.Status = execution.StatusCompleted
	old.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, old))

	fresh := execution.NewExecution("wf-fresh", "def-1", nil)
	fresh.Status = execution.StatusCompleted
	require.NoError(t, s.Create(ctx, fresh))

	stillRunning := execution.NewExecution("wf-run", "def-1", nil)
	stillRunning.Status = execution.StatusRunning
	stillRunning.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.Create(ctx, stillRunning))

	n, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.FindByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByID(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = s.FindByID(ctx, stillRunning.ID)
	assert.NoError(t, err, "non-terminal executions are never pruned")
}

func TestMemoryNodeExecutionStoreOrderAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeExecutionStore()

	started := time.Now().UTC().Add(-time.Hour)
	for i, nodeID := range []string{"start", "task", "end"} {
		at := started.Add(time.Duration(i) * time.Second)
		rec := &execution.NodeExecution{
			ID:          nodeID + "-visit",
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			TokenID:     "tok-1",
			NodeID:      nodeID,
			NodeType:    "activity:service",
			Status:      execution.NodeStatusExecuting,
			StartedAt:   &at,
		}
		require.NoError(t, s.Create(ctx, rec))
	}

	trail, err := s.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "start", trail[0].NodeID)
	assert.Equal(t, "end", trail[2].NodeID)

	done := *trail[0]
	done.Status = execution.NodeStatusCompleted
	require.NoError(t, s.Update(ctx, &done))

	n, err := s.ReconcileDangling(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "only executing rows older than the cutoff flip to failed")

	trail, err = s.ListByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.NodeStatusCompleted, trail[0].Status)
	assert.Equal(t, execution.NodeStatusFailed, trail[1].Status)
	assert.Equal(t, "interrupted by restart", trail[1].ErrorMessage)
}
