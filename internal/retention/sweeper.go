// Package retention deletes jobs older than a configured age.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"protoscript/internal/jobs"
	"protoscript/internal/telemetry"
)

// Purger drops per-job rows kept outside the blob store.
type Purger interface {
	DeleteJob(ctx context.Context, jobID string) error
}

// Sweeper removes every object of jobs whose created_at is past the threshold.
// Jobs without a readable status document or created_at are never touched.
type Sweeper struct {
	store *jobs.Store
	audit Purger
	now   func() time.Time
}

// NewSweeper builds a sweeper. audit may be nil.
func NewSweeper(st *jobs.Store, audit Purger) *Sweeper {
	return &Sweeper{store: st, audit: audit, now: time.Now}
}

// Sweep deletes jobs created more than maxAge ago and returns how many went.
// A failure on one job does not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	threshold := s.now().Add(-maxAge)
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	var errs []error
	deleted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		job, err := s.store.Get(ctx, id)
		if err != nil {
			log.Printf("retention: job %s: skipped, no readable status: %v", id, err)
			continue
		}
		if job.CreatedAt == nil || !job.CreatedAt.Before(threshold) {
			continue
		}
		if err := s.store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete job %s: %w", id, err))
			continue
		}
		if s.audit != nil {
			if err := s.audit.DeleteJob(ctx, id); err != nil {
				log.Printf("retention: job %s: purge audit rows: %v", id, err)
			}
		}
		deleted++
	}
	telemetry.RetentionDeleted.Add(float64(deleted))
	return deleted, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx, maxAge)
			if err != nil && ctx.Err() == nil {
				log.Printf("retention: sweep: %v", err)
			}
			if n > 0 {
				log.Printf("retention: deleted %d jobs older than %s", n, maxAge)
			}
		}
	}
}
