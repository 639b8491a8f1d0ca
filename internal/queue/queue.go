// Package queue hands job ids from submission to the worker pool.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrClosed    = errors.New("queue is closed")
)

// Message is the unit handed to a worker.
type Message struct {
	JobID        string `json:"job_id"`
	TemplateName string `json:"template_name"`
}

// Queue is the producer side of a transport.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Source is the consumer side of a transport. Next blocks until a message is
// available or ctx is done.
type Source interface {
	Next(ctx context.Context) (*Delivery, error)
}

// Delivery is one received message plus the transport's settlement hooks.
type Delivery struct {
	Message Message

	ack    func(ctx context.Context) error
	fail   func(ctx context.Context, cause error) error
	extend func(ctx context.Context) error
}

// Ack settles a successfully handled delivery.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Fail settles a delivery whose handler returned an error.
func (d *Delivery) Fail(ctx context.Context, cause error) error {
	if d.fail == nil {
		return nil
	}
	return d.fail(ctx, cause)
}

// Extend keeps a long-running delivery from being redelivered.
func (d *Delivery) Extend(ctx context.Context) error {
	if d.extend == nil {
		return nil
	}
	return d.extend(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
