package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procflow/procflow/internal/engine"
	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/logger"
	"github.com/procflow/procflow/internal/platform/metrics"
	"github.com/procflow/procflow/internal/store"
)

// Listener receives node execution records after the writer has applied
// them. Listeners run on the writer goroutine and must not block.
type Listener func(rec *execution.NodeExecution)

// visit is the handle returned to the engine. All mutations happen on the
// engine loop; snapshots are taken before crossing to the writer.
type visit struct {
	rec *execution.NodeExecution
}

// Sink implements engine.NodeExecutionSink. Events are buffered through an
// EventQueue and applied to the node execution store by a single writer
// goroutine, so the engine loop never waits on the database.
type Sink struct {
	queue   EventQueue
	records store.NodeExecutionStore
	metrics *metrics.Metrics
	log     logger.Logger

	mu        sync.RWMutex
	listeners []Listener

	wg sync.WaitGroup
}

// NewSink creates a sink and starts its writer. The store and metrics may
// be nil; events still flow to listeners.
func NewSink(queue EventQueue, records store.NodeExecutionStore, m *metrics.Metrics, log logger.Logger) *Sink {
	s := &Sink{
		queue:   queue,
		records: records,
		metrics: m,
		log:     log,
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

// Subscribe registers a listener for applied node execution records.
func (s *Sink) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start records a node visit entering execution.
func (s *Sink) Start(info engine.StartInfo) engine.Handle {
	rec := &execution.NodeExecution{
		ID:          uuid.New().String(),
		ExecutionID: info.ExecutionID,
		WorkflowID:  info.WorkflowID,
		TokenID:     info.TokenID,
		NodeID:      info.NodeID,
		NodeType:    info.NodeType,
		Status:      execution.NodeStatusExecuting,
		InputData:   info.InputData,
	}
	startedAt := info.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	rec.StartedAt = &startedAt

	s.emit(EventCreated, rec)
	return &visit{rec: rec}
}

// Complete marks a visit as completed with its output data.
func (s *Sink) Complete(h engine.Handle, outputData map[string]interface{}) {
	v, ok := h.(*visit)
	if !ok || v == nil {
		return
	}
	v.rec.Status = execution.NodeStatusCompleted
	v.rec.OutputData = outputData
	s.finish(v)
}

// Fail marks a visit as failed.
func (s *Sink) Fail(h engine.Handle, errorMessage string) {
	v, ok := h.(*visit)
	if !ok || v == nil {
		return
	}
	v.rec.Status = execution.NodeStatusFailed
	v.rec.ErrorMessage = errorMessage
	s.finish(v)
}

// MarkWaiting marks a visit as paused for external completion.
func (s *Sink) MarkWaiting(h engine.Handle) {
	v, ok := h.(*visit)
	if !ok || v == nil {
		return
	}
	v.rec.Status = execution.NodeStatusWaiting
	s.emit(EventUpdated, v.rec)
	if s.metrics != nil {
		s.metrics.NodeExecutionsTotal.WithLabelValues(v.rec.NodeType, string(v.rec.Status)).Inc()
	}
}

// MarkSkipped marks a visit as skipped.
func (s *Sink) MarkSkipped(h engine.Handle) {
	v, ok := h.(*visit)
	if !ok || v == nil {
		return
	}
	v.rec.Status = execution.NodeStatusSkipped
	s.finish(v)
}

// Close stops accepting events and waits for the writer to drain.
func (s *Sink) Close() error {
	err := s.queue.Close()
	s.wg.Wait()
	return err
}

func (s *Sink) finish(v *visit) {
	now := time.Now().UTC()
	v.rec.CompletedAt = &now
	if v.rec.StartedAt != nil {
		v.rec.DurationMs = now.Sub(*v.rec.StartedAt).Milliseconds()
	}
	s.emit(EventUpdated, v.rec)

	if s.metrics != nil {
		s.metrics.NodeExecutionsTotal.WithLabelValues(v.rec.NodeType, string(v.rec.Status)).Inc()
		s.metrics.NodeExecutionDuration.WithLabelValues(v.rec.NodeType).Observe(float64(v.rec.DurationMs) / 1000)
	}
}

func (s *Sink) emit(typ EventType, rec *execution.NodeExecution) {
	snapshot := *rec
	if err := s.queue.Enqueue(context.Background(), &Event{Type: typ, Record: &snapshot}); err != nil {
		s.log.Warn("failed to enqueue tracker event",
			"node_execution_id", rec.ID,
			"error", err,
		)
	}
}

// writer drains the queue, applies each event to the store, then fans out
// to listeners.
func (s *Sink) writer() {
	defer s.wg.Done()

	ctx := context.Background()
	for {
		ev, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.log.Error("tracker queue failed", "error", err)
			return
		}
		if ev == nil {
			return
		}
		s.apply(ctx, ev)
	}
}

func (s *Sink) apply(ctx context.Context, ev *Event) {
	if s.records != nil {
		var err error
		switch ev.Type {
		case EventCreated:
			err = s.records.Create(ctx, ev.Record)
		case EventUpdated:
			err = s.records.Update(ctx, ev.Record)
			if errors.Is(err, store.ErrNotFound) {
				err = s.records.Create(ctx, ev.Record)
			}
		}
		if err != nil {
			s.log.Warn("failed to persist node execution",
				"node_execution_id", ev.Record.ID,
				"type", string(ev.Type),
				"error", err,
			)
		}
	}

	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ev.Record)
	}
}
