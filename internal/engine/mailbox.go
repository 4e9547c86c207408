package engine

import "sync"

// mailbox is an unbounded FIFO queue with a single consumer. Sends never
// block, which keeps the engine and its workers deadlock-free when they
// message each other in both directions.
type mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	m := &mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// push appends an item. Pushing to a closed mailbox is a no-op.
func (m *mailbox[T]) push(item T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.items = append(m.items, item)
	m.cond.Signal()
}

// pop blocks until an item is available or the mailbox is closed and
// drained. The second return is false once the mailbox is exhausted.
func (m *mailbox[T]) pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}

	item := m.items[0]
	m.items = m.items[1:]
	return item, true
}

// close stops the mailbox. Queued items are still delivered.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}
