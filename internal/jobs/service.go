package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"protoscript/internal/models"
	"protoscript/internal/queue"
)

// Recorder receives lifecycle events for the audit trail.
type Recorder interface {
	Record(ctx context.Context, jobID, event, detail string) error
}

// NopRecorder discards audit events.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, string, string) error { return nil }

// SubmitRequest carries the inputs of a new job.
type SubmitRequest struct {
	Meta         []byte
	Audio        []byte
	TemplateName string
}

// Poll is the polling view of a job. Result is set only for completed jobs.
type Poll struct {
	models.Job
	Result string `json:"result_markdown,omitempty"`
}

// Service creates jobs and answers status polls. It never advances a job
// beyond pending; that is the worker's job.
type Service struct {
	store           *Store
	queue           queue.Queue
	audit           Recorder
	defaultTemplate string
	now             func() time.Time
	newID           func() string
}

// NewService wires submission and polling. audit may be nil.
func NewService(st *Store, q queue.Queue, audit Recorder, defaultTemplate string) *Service {
	if audit == nil {
		audit = NopRecorder{}
	}
	if defaultTemplate == "" {
		defaultTemplate = "default.md.j2"
	}
	return &Service{
		store:           st,
		queue:           q,
		audit:           audit,
		defaultTemplate: defaultTemplate,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           func() string { return uuid.New().String() },
	}
}

// Submit validates the inputs, stores them with a pending status document and
// dispatches the job. Invalid requests fail with models.ErrInput before
// anything is written.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (models.Job, error) {
	if len(req.Meta) == 0 {
		return models.Job{}, models.InputError("submit", errors.New("meta is required"))
	}
	if len(req.Audio) == 0 {
		return models.Job{}, models.InputError("submit", errors.New("audio is required"))
	}
	if _, err := models.ParseMeta(req.Meta); err != nil {
		return models.Job{}, models.InputError("submit", err)
	}
	templateName := TemplateName(req.TemplateName, s.defaultTemplate)

	id := s.newID()
	created := s.now()
	status := models.StatusPending

	if err := s.store.PutInputs(ctx, id, req.Meta, req.Audio); err != nil {
		return models.Job{}, models.StoreError("submit", err)
	}
	if err := s.store.Create(ctx, id, models.JobUpdate{
		Status:       &status,
		CreatedAt:    &created,
		TemplateName: &templateName,
	}); err != nil {
		return models.Job{}, models.StoreError("submit", err)
	}
	s.record(ctx, id, "submitted", "template="+templateName)

	job := models.Job{
		ID:           id,
		Status:       status,
		CreatedAt:    &created,
		TemplateName: templateName,
	}
	if err := s.queue.Enqueue(ctx, queue.Message{JobID: id, TemplateName: templateName}); err != nil {
		s.record(ctx, id, "dispatch_failed", err.Error())
		return job, fmt.Errorf("dispatch job %s: %w", id, err)
	}
	return job, nil
}

// Poll returns the job and, once completed, its rendered result. Unknown ids
// yield models.ErrNotFound; a completed job whose result cannot be read
// yields models.ErrStore.
func (s *Service) Poll(ctx context.Context, id string) (Poll, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return Poll{}, err
	}
	out := Poll{Job: job}
	if job.Status == models.StatusCompleted {
		result, err := s.store.Result(ctx, id)
		if err != nil {
			// The job exists, so a missing result is a store fault.
			return Poll{}, models.StoreError("poll", fmt.Errorf("read result %s: %v", id, err))
		}
		out.Result = result
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, id, event, detail string) {
	if err := s.audit.Record(ctx, id, event, detail); err != nil {
		log.Printf("jobs: job %s: audit %s: %v", id, event, err)
	}
}

// TemplateName reduces a requested template to a bare file name, falling back
// to def when nothing usable is left.
func TemplateName(requested, def string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(requested), `\`, "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return def
	}
	return name
}
