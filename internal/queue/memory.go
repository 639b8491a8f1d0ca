package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// MemoryQueue is an in-process transport for a single binary hosting both the
// API and the worker pool. Messages are lost if the process exits.
type MemoryQueue struct {
	ch   chan Message
	stop chan struct{}
	once sync.Once
}

// NewMemoryQueue creates a queue holding up to bufferSize pending messages.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryQueue{
		ch:   make(chan Message, bufferSize),
		stop: make(chan struct{}),
	}
}

// Enqueue never blocks; it fails when the buffer is full.
func (q *MemoryQueue) Enqueue(_ context.Context, msg Message) error {
	select {
	case <-q.stop:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, ErrQueueFull)
	}
}

func (q *MemoryQueue) Next(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.stop:
		return nil, ErrClosed
	case msg := <-q.ch:
		return &Delivery{
			Message: msg,
			fail: func(_ context.Context, cause error) error {
				log.Printf("queue: job %s failed in-process: %v", msg.JobID, cause)
				return nil
			},
		}, nil
	}
}

// Depth returns the number of pending messages.
func (q *MemoryQueue) Depth() int {
	return len(q.ch)
}

// Close stops accepting and handing out messages.
func (q *MemoryQueue) Close() {
	q.once.Do(func() {
		close(q.stop)
	})
}
