package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"protoscript/internal/queue"
	"protoscript/internal/telemetry"
)

// settleTimeout bounds ack/fail calls made after a job finished.
const settleTimeout = 10 * time.Second

// Pool runs Size goroutines that pull deliveries from a queue.Source and hand
// them to the Processor.
type Pool struct {
	source    queue.Source
	processor *Processor
	size      int
	// Heartbeat is how often a running job extends its lease. Zero disables it.
	Heartbeat time.Duration
	// Depth, when set, feeds the queue depth gauge after each receive.
	Depth func(ctx context.Context) (int64, error)
}

func NewPool(src queue.Source, p *Processor, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{source: src, processor: p, size: size}
}

// Run blocks until ctx is done or the source is closed. A job that has been
// received runs to a terminal state even if ctx is cancelled meanwhile.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, slot int) {
	for {
		d, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Printf("worker: slot %d: receive: %v", slot, err)
			continue
		}
		if p.Depth != nil {
			if depth, err := p.Depth(ctx); err == nil {
				telemetry.QueueDepthGauge.Set(float64(depth))
			}
		}
		p.handle(ctx, d)
	}
}

func (p *Pool) handle(ctx context.Context, d *queue.Delivery) {
	jobCtx := context.WithoutCancel(ctx)
	stop := p.heartbeat(jobCtx, d)
	err := p.processor.Process(jobCtx, d.Message.JobID, d.Message.TemplateName)
	stop()

	settleCtx, cancel := context.WithTimeout(jobCtx, settleTimeout)
	defer cancel()
	if err != nil {
		if ferr := d.Fail(settleCtx, err); ferr != nil {
			log.Printf("worker: job %s: settle failure: %v", d.Message.JobID, ferr)
		}
		return
	}
	if aerr := d.Ack(settleCtx); aerr != nil {
		log.Printf("worker: job %s: ack: %v", d.Message.JobID, aerr)
	}
}

func (p *Pool) heartbeat(ctx context.Context, d *queue.Delivery) func() {
	if p.Heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := d.Extend(ctx); err != nil {
					log.Printf("worker: job %s: extend lease: %v", d.Message.JobID, err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
