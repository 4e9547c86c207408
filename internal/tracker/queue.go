// Package tracker records the per-node execution lifecycle. The engine
// emits events through a sink; a background writer drains a queue and
// applies the events to the node execution store.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/config"
)

// EventType distinguishes record creation from updates.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// Event is one queued tracker write. Record is a full snapshot so the
// writer never has to read before applying.
type Event struct {
	Type   EventType                `json:"type"`
	Record *execution.NodeExecution `json:"record"`
}

// EventQueue buffers tracker events between the engine loop and the writer.
type EventQueue interface {
	Enqueue(ctx context.Context, ev *Event) error
	// Dequeue blocks until an event is available or the queue is closed.
	// A nil event with a nil error means the queue has been closed and
	// drained.
	Dequeue(ctx context.Context) (*Event, error)
	Close() error
}

// MemoryQueue is an in-process unbounded event queue.
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []*Event
	closed bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an event. Events enqueued after Close are dropped.
func (q *MemoryQueue) Enqueue(_ context.Context, ev *Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	q.events = append(q.events, ev)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until an event is available. After Close it keeps
// returning queued events until drained, then returns nil, nil.
func (q *MemoryQueue) Dequeue(_ context.Context) (*Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.events) == 0 {
		return nil, nil
	}

	ev := q.events[0]
	q.events = q.events[1:]
	return ev, nil
}

// Close stops accepting events and wakes any blocked consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}

// RedisQueue is a Redis-backed event queue for deployments where the
// writer runs outside the engine process.
type RedisQueue struct {
	client   *redis.Client
	queueKey string
	closed   chan struct{}
	once     sync.Once
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg config.RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client:   client,
		queueKey: cfg.QueueName,
		closed:   make(chan struct{}),
	}, nil
}

// Enqueue pushes an event to the head of the Redis list.
func (q *RedisQueue) Enqueue(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// Dequeue pops from the tail of the list, blocking in one second slices so
// Close can be observed.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Event, error) {
	for {
		select {
		case <-q.closed:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res, err := q.client.BRPop(ctx, time.Second, q.queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue event: %w", err)
		}

		var ev Event
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		return &ev, nil
	}
}

// Close stops the consumer loop and closes the Redis client.
func (q *RedisQueue) Close() error {
	var err error
	q.once.Do(func() {
		close(q.closed)
		err = q.client.Close()
	})
	return err
}
