package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/store"
)

func startInfo(nodeID string) engine.StartInfo {
	return engine.StartInfo{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		TokenID:     "tok-1",
		NodeID:      nodeID,
		NodeType:    "activity:service",
		InputData:   map[string]interface{}{"in": 1},
		StartedAt:   time.Now().UTC(),
	}
}

func TestSinkPersistsVisitLifecycle(t *testing.T) {
	records := store.NewMemoryNodeExecutionStore()
	s := NewSink(NewMemoryQueue(), records, nil, logger.NewNop())

	h := s.Start(startInfo("task"))
	require.NotNil(t, h)
	s.Complete(h, map[string]interface{}{"out": 2})

	require.NoError(t, s.Close())

	trail, err := records.ListByExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)

	rec := trail[0]
	assert.Equal(t, "task", rec.NodeID)
	assert.Equal(t, execution.NodeStatusCompleted, rec.Status)
	assert.Equal(t, map[string]interface{}{"in": 1}, rec.InputData)
	assert.Equal(t, map[string]interface{}{"out": 2}, rec.OutputData)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)
	assert.GreaterOrEqual(t, rec.DurationMs, int64(0))
}

func TestSinkPersistsFailure(t *testing.T) {
	records := store.NewMemoryNodeExecutionStore()
	s := NewSink(NewMemoryQueue(), records, nil, logger.NewNop())

	h := s.Start(startInfo("task"))
	s.Fail(h, "connection refused")
	require.NoError(t, s.Close())

	trail, err := records.ListByExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, execution.NodeStatusFailed, trail[0].Status)
	assert.Equal(t, "connection refused", trail[0].ErrorMessage)
}

func TestSinkMarksWaitingThenCompletes(t *testing.T) {
	records := store.NewMemoryNodeExecutionStore()
	s := NewSink(NewMemoryQueue(), records, nil, logger.NewNop())

	h := s.Start(startInfo("approve"))
	s.MarkWaiting(h)
	s.Complete(h, map[string]interface{}{"approved": true})
	require.NoError(t, s.Close())

	trail, err := records.ListByExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, execution.NodeStatusCompleted, trail[0].Status)
	assert.Equal(t, true, trail[0].OutputData["approved"])
}

func TestSinkIgnoresForeignHandles(t *testing.T) {
	s := NewSink(NewMemoryQueue(), store.NewMemoryNodeExecutionStore(), nil, logger.NewNop())
	defer s.Close()

	// Handles from other sinks, including nil, must be no-ops.
	s.Complete(nil, nil)
	s.Fail("not-a-visit", "x")
	s.MarkWaiting(42)
	s.MarkSkipped(nil)
}

func TestSinkNotifiesListenersInOrder(t *testing.T) {
	s := NewSink(NewMemoryQueue(), store.NewMemoryNodeExecutionStore(), nil, logger.NewNop())

	var mu sync.Mutex
	var seen []execution.NodeStatus
	s.Subscribe(func(rec *execution.NodeExecution) {
		mu.Lock()
		seen = append(seen, rec.Status)
		mu.Unlock()
	})

	h := s.Start(startInfo("approve"))
	s.MarkWaiting(h)
	s.Complete(h, nil)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []execution.NodeStatus{
		execution.NodeStatusExecuting,
		execution.NodeStatusWaiting,
		execution.NodeStatusCompleted,
	}, seen)
}

func TestSinkWorksWithoutStore(t *testing.T) {
	s := NewSink(NewMemoryQueue(), nil, nil, logger.NewNop())

	var mu sync.Mutex
	count := 0
	s.Subscribe(func(*execution.NodeExecution) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	h := s.Start(startInfo("task"))
	s.Complete(h, nil)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestMemoryQueueDrainsOnClose(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Event{Type: EventCreated}))
	require.NoError(t, q.Enqueue(ctx, &Event{Type: EventUpdated}))
	require.NoError(t, q.Close())

	ev, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventCreated, ev.Type)

	ev, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventUpdated, ev.Type)

	ev, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, ev)

	assert.Error(t, q.Enqueue(ctx, &Event{}))
}
