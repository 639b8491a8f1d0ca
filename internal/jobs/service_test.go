package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"protoscript/internal/models"
	"protoscript/internal/queue"
)

const validMeta = `{"start_time":"2026-01-30T21:46:00","end_time":"2026-01-30T21:47:00","users":{},"events":[]}`

type recordingQueue struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type memoryRecorder struct {
	events []string
}

func (r *memoryRecorder) Record(_ context.Context, _, event, _ string) error {
	r.events = append(r.events, event)
	return nil
}

func newTestService(t *testing.T, q queue.Queue, rec Recorder) (*Service, *Store) {
	t.Helper()
	st, _ := newTestStore(t)
	svc := NewService(st, q, rec, "default.md.j2")
	svc.now = func() time.Time { return time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "job-fixed" }
	return svc, st
}

func TestSubmitCreatesPendingJobAndDispatches(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{}
	rec := &memoryRecorder{}
	svc, st := newTestService(t, q, rec)

	job, err := svc.Submit(ctx, SubmitRequest{Meta: []byte(validMeta), Audio: []byte("fLaC")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID != "job-fixed" || job.Status != models.StatusPending || job.TemplateName != "default.md.j2" {
		t.Fatalf("job = %+v", job)
	}

	stored, err := st.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusPending || stored.CreatedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	if meta, err := st.Meta(ctx, job.ID); err != nil || string(meta) != validMeta {
		t.Fatalf("meta = %q, %v", meta, err)
	}

	if len(q.msgs) != 1 || q.msgs[0].JobID != "job-fixed" || q.msgs[0].TemplateName != "default.md.j2" {
		t.Fatalf("dispatched = %+v", q.msgs)
	}
	if len(rec.events) != 1 || rec.events[0] != "submitted" {
		t.Fatalf("audit = %v", rec.events)
	}

	poll, err := svc.Poll(ctx, job.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if poll.Status != models.StatusPending || poll.Result != "" {
		t.Fatalf("poll = %+v", poll)
	}
}

func TestSubmitRejectsMalformedRequestWithoutWriting(t *testing.T) {
	ctx := context.Background()
	q := &recordingQueue{}
	svc, st := newTestService(t, q, nil)

	cases := []SubmitRequest{
		{Meta: nil, Audio: []byte("x")},
		{Meta: []byte(validMeta), Audio: nil},
		{Meta: []byte(`{"users":{}}`), Audio: []byte("x")},
	}
	for i, req := range cases {
		if _, err := svc.Submit(ctx, req); !errors.Is(err, models.ErrInput) {
			t.Fatalf("case %d: err = %v, want ErrInput", i, err)
		}
	}
	ids, err := st.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 || len(q.msgs) != 0 {
		t.Fatalf("rejected submissions left state behind: ids=%v msgs=%v", ids, q.msgs)
	}
}

func TestSubmitReportsDispatchFailure(t *testing.T) {
	q := &recordingQueue{err: queue.ErrQueueFull}
	rec := &memoryRecorder{}
	svc, st := newTestService(t, q, rec)

	job, err := svc.Submit(context.Background(), SubmitRequest{Meta: []byte(validMeta), Audio: []byte("x"), TemplateName: "discord.md.j2"})
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	stored, getErr := st.Get(context.Background(), job.ID)
	if getErr != nil || stored.Status != models.StatusPending {
		t.Fatalf("job should stay pending: %+v, %v", stored, getErr)
	}
	if len(rec.events) != 2 || rec.events[1] != "dispatch_failed" {
		t.Fatalf("audit = %v", rec.events)
	}
}

func TestPollDistinguishesUnknownAndCompleted(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, &recordingQueue{}, nil)

	if _, err := svc.Poll(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("poll unknown err = %v, want ErrNotFound", err)
	}

	done := models.StatusCompleted
	if err := st.Create(ctx, "job-done", models.JobUpdate{Status: &done}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.SaveResult(ctx, "job-done", "# Protocol"); err != nil {
		t.Fatalf("save result: %v", err)
	}
	poll, err := svc.Poll(ctx, "job-done")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if poll.Status != models.StatusCompleted || poll.Result != "# Protocol" {
		t.Fatalf("poll = %+v", poll)
	}
}

func TestPollCompletedWithoutResultIsStoreError(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, &recordingQueue{}, nil)

	done := models.StatusCompleted
	if err := st.Create(ctx, "job-swept", models.JobUpdate{Status: &done}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Poll(ctx, "job-swept")
	if !errors.Is(err, models.ErrStore) {
		t.Fatalf("err = %v, want ErrStore", err)
	}
	if errors.Is(err, models.ErrNotFound) {
		t.Fatalf("existing job reported as not found: %v", err)
	}
}
