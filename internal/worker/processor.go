package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"protoscript/internal/audio"
	"protoscript/internal/jobs"
	"protoscript/internal/models"
	"protoscript/internal/render"
	"protoscript/internal/telemetry"
	"protoscript/internal/timeline"
)

// Transcriber turns a decoded recording into speech segments.
type Transcriber interface {
	Transcribe(ctx context.Context, buf audio.Buffer, users map[string]models.User, workDir string) ([]models.Segment, error)
}

// Options tune a Processor. Zero values are usable.
type Options struct {
	Audit           jobs.Recorder
	WorkDir         string
	DefaultTemplate string
	WorkerID        string
}

// Processor drives one job from pending to a terminal state.
type Processor struct {
	store           *jobs.Store
	engine          Transcriber
	renderer        render.Renderer
	audit           jobs.Recorder
	workDir         string
	defaultTemplate string
	workerID        string
	now             func() time.Time
}

func NewProcessor(st *jobs.Store, engine Transcriber, renderer render.Renderer, opts Options) *Processor {
	if opts.Audit == nil {
		opts.Audit = jobs.NopRecorder{}
	}
	if opts.DefaultTemplate == "" {
		opts.DefaultTemplate = render.DefaultTemplate
	}
	return &Processor{
		store:           st,
		engine:          engine,
		renderer:        renderer,
		audit:           opts.Audit,
		workDir:         opts.WorkDir,
		defaultTemplate: opts.DefaultTemplate,
		workerID:        opts.WorkerID,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the pipeline for jobID. Jobs already completed or failed are
// left alone, so a redelivered message is harmless. On failure the job is
// marked failed before the error is returned.
func (p *Processor) Process(ctx context.Context, jobID, templateName string) error {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return models.StoreError("load", fmt.Errorf("job %s: %w", jobID, err))
	}
	if job.Status.Terminal() {
		log.Printf("worker: job %s already %s, skipping", jobID, job.Status)
		telemetry.JobsSkipped.Inc()
		return nil
	}
	if !models.CanTransition(job.Status, models.StatusProcessing) {
		return models.StoreError("load", fmt.Errorf("job %s: unexpected status %q", jobID, job.Status))
	}
	if templateName == "" {
		templateName = job.TemplateName
	}
	if templateName == "" {
		templateName = p.defaultTemplate
	}

	processing := models.StatusProcessing
	update := models.JobUpdate{Status: &processing}
	if job.StartedAt == nil {
		started := p.now()
		update.StartedAt = &started
	}
	if err := p.store.MergeUpdate(ctx, jobID, update); err != nil {
		return models.StoreError("start", err)
	}
	p.record(ctx, jobID, "processing", p.workerID)
	log.Printf("worker: job %s: processing with template %s", jobID, templateName)

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	protocol, err := p.run(ctx, jobID, templateName)
	if err != nil {
		return p.markFailed(ctx, jobID, err)
	}

	// A concurrent delivery of the same job may have settled it meanwhile.
	if p.settledElsewhere(ctx, jobID) {
		return nil
	}
	if err := p.store.SaveResult(ctx, jobID, protocol); err != nil {
		return p.markFailed(ctx, jobID, models.StoreError("save_result", err))
	}
	completed := models.StatusCompleted
	finished := p.now()
	if err := p.store.MergeUpdate(ctx, jobID, models.JobUpdate{Status: &completed, CompletedAt: &finished}); err != nil {
		return p.markFailed(ctx, jobID, models.StoreError("complete", err))
	}
	p.record(ctx, jobID, "completed", "")
	telemetry.JobsCompleted.Inc()
	log.Printf("worker: job %s: completed", jobID)
	return nil
}

func (p *Processor) run(ctx context.Context, jobID, templateName string) (protocol string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: job %s: panic: %v\n%s", jobID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	workspace, err := os.MkdirTemp(p.workDir, "job-"+jobID+"-")
	if err != nil {
		return "", models.StoreError("workspace", err)
	}
	defer os.RemoveAll(workspace)

	start := time.Now()
	metaPath, audioPath, err := p.fetchInputs(ctx, jobID, workspace)
	if err != nil {
		return "", err
	}
	telemetry.ObserveStage("fetch", start)

	metaRaw, err := os.ReadFile(metaPath)
	if err != nil {
		return "", models.StoreError("fetch", err)
	}
	meta, err := models.ParseMeta(metaRaw)
	if err != nil {
		return "", models.InputError("parse_meta", err)
	}
	audioRaw, err := os.ReadFile(audioPath)
	if err != nil {
		return "", models.StoreError("fetch", err)
	}
	start = time.Now()
	buf, err := audio.Decode(audioRaw)
	if err != nil {
		return "", models.InputError("decode_audio", err)
	}
	telemetry.ObserveStage("decode", start)

	start = time.Now()
	segments, err := p.engine.Transcribe(ctx, buf, meta.Users, workspace)
	if err != nil {
		var se *models.StageError
		if !errors.As(err, &se) {
			err = models.EngineError("transcribe", err)
		}
		return "", err
	}
	telemetry.ObserveStage("transcribe", start)

	merged := timeline.Merge(meta, segments)

	start = time.Now()
	protocol, err = p.renderer.Render(ctx, templateName, meta, merged)
	if err != nil {
		var se *models.StageError
		if !errors.As(err, &se) {
			err = models.RenderError("render", err)
		}
		return "", err
	}
	telemetry.ObserveStage("render", start)
	return protocol, nil
}

func (p *Processor) fetchInputs(ctx context.Context, jobID, workspace string) (string, string, error) {
	metaRaw, err := p.store.Meta(ctx, jobID)
	if err != nil {
		return "", "", models.StoreError("fetch", fmt.Errorf("meta: %w", err))
	}
	audioRaw, err := p.store.Audio(ctx, jobID)
	if err != nil {
		return "", "", models.StoreError("fetch", fmt.Errorf("audio: %w", err))
	}
	metaPath := filepath.Join(workspace, "meta.json")
	audioPath := filepath.Join(workspace, "audio.flac")
	if err := os.WriteFile(metaPath, metaRaw, 0o600); err != nil {
		return "", "", models.StoreError("fetch", err)
	}
	if err := os.WriteFile(audioPath, audioRaw, 0o600); err != nil {
		return "", "", models.StoreError("fetch", err)
	}
	return metaPath, audioPath, nil
}

// markFailed records cause on the job and returns it. A job that another
// delivery already settled is left as it is and nil is returned.
func (p *Processor) markFailed(ctx context.Context, jobID string, cause error) error {
	if p.settledElsewhere(ctx, jobID) {
		log.Printf("worker: job %s: dropping failure of duplicate delivery: %v", jobID, cause)
		return nil
	}
	log.Printf("worker: job %s: failed: %v", jobID, cause)
	failed := models.StatusFailed
	msg := cause.Error()
	if err := p.store.MergeUpdate(ctx, jobID, models.JobUpdate{Status: &failed, ErrorMessage: &msg}); err != nil {
		log.Printf("worker: job %s: could not record failure: %v", jobID, err)
	}
	p.record(ctx, jobID, "failed", msg)
	telemetry.JobsFailed.WithLabelValues(errorKind(cause)).Inc()
	return cause
}

// settledElsewhere re-reads the status document and reports whether the job
// already reached a terminal status. Read errors count as not settled.
func (p *Processor) settledElsewhere(ctx context.Context, jobID string) bool {
	job, err := p.store.Get(ctx, jobID)
	if err != nil || !job.Status.Terminal() {
		return false
	}
	log.Printf("worker: job %s: settled as %s by another delivery", jobID, job.Status)
	telemetry.JobsSkipped.Inc()
	return true
}

func (p *Processor) record(ctx context.Context, jobID, event, detail string) {
	if err := p.audit.Record(ctx, jobID, event, detail); err != nil {
		log.Printf("worker: job %s: audit %s: %v", jobID, event, err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrInput):
		return "input"
	case errors.Is(err, models.ErrEngine):
		return "engine"
	case errors.Is(err, models.ErrRender):
		return "render"
	case errors.Is(err, models.ErrStore):
		return "store"
	default:
		return "panic"
	}
}
