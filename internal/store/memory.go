package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procflow/procflow/internal/execution"
)

// MemoryDefinitionStore is an in-memory DefinitionStore.
type MemoryDefinitionStore struct {
	mu      sync.RWMutex
	records map[string]*execution.DefinitionRecord
}

// NewMemoryDefinitionStore creates an empty in-memory definition store.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{records: make(map[string]*execution.DefinitionRecord)}
}

func (s *MemoryDefinitionStore) Save(_ context.Context, record *execution.DefinitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *MemoryDefinitionStore) FindByID(_ context.Context, id string) (*execution.DefinitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryDefinitionStore) List(_ context.Context, limit, offset int) ([]*execution.DefinitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*execution.DefinitionRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InsertedAt.After(all[j].InsertedAt) })
	return paginate(all, limit, offset), nil
}

func (s *MemoryDefinitionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// MemoryExecutionStore is an in-memory ExecutionStore.
type MemoryExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*execution.Execution
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{records: make(map[string]*execution.Execution)}
}

func (s *MemoryExecutionStore) Create(_ context.Context, exec *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.records[exec.ID] = &cp
	return nil
}

func (s *MemoryExecutionStore) Update(_ context.Context, exec *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[exec.ID]; !ok {
		return ErrNotFound
	}
	cp := *exec
	cp.UpdatedAt = time.Now().UTC()
	s.records[exec.ID] = &cp
	return nil
}

func (s *MemoryExecutionStore) FindByID(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryExecutionStore) List(_ context.Context, limit, offset int) ([]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*execution.Execution, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InsertedAt.After(all[j].InsertedAt) })
	return paginate(all, limit, offset), nil
}

func (s *MemoryExecutionStore) ListByStatus(_ context.Context, status execution.Status, limit int) ([]*execution.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*execution.Execution
	for _, rec := range s.records {
		if rec.Status != status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertedAt.After(out[j].InsertedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryExecutionStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		terminal := rec.Status == execution.StatusCompleted || rec.Status == execution.StatusFailed
		if terminal && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// MemoryNodeExecutionStore is an in-memory NodeExecutionStore.
type MemoryNodeExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*execution.NodeExecution
	order   []string
}

// NewMemoryNodeExecutionStore creates an empty in-memory node execution store.
func NewMemoryNodeExecutionStore() *MemoryNodeExecutionStore {
	return &MemoryNodeExecutionStore{records: make(map[string]*execution.NodeExecution)}
}

func (s *MemoryNodeExecutionStore) Create(_ context.Context, rec *execution.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryNodeExecutionStore) Update(_ context.Context, rec *execution.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryNodeExecutionStore) FindByID(_ context.Context, id string) (*execution.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryNodeExecutionStore) ListByExecution(_ context.Context, executionID string) ([]*execution.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*execution.NodeExecution
	for _, id := range s.order {
		rec := s.records[id]
		if rec == nil || rec.ExecutionID != executionID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryNodeExecutionStore) ReconcileDangling(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status != execution.NodeStatusExecuting {
			continue
		}
		if rec.StartedAt != nil && rec.StartedAt.After(cutoff) {
			continue
		}
		rec.Status = execution.NodeStatusFailed
		rec.ErrorMessage = "interrupted by restart"
		n++
	}
	return n, nil
}

func paginate[T any](all []*T, limit, offset int) []*T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
