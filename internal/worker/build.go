package worker

import (
	"fmt"

	"protoscript/internal/config"
	"protoscript/internal/jobs"
	"protoscript/internal/render"
	"protoscript/internal/stt"
)

// FromConfig builds a Processor with the engine and templates selected by cfg.
func FromConfig(cfg config.Config, st *jobs.Store, audit jobs.Recorder, workerID string) (*Processor, error) {
	engine, err := stt.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("stt engine: %w", err)
	}
	templates, err := render.New(cfg.TemplateDir, cfg.DefaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}
	return NewProcessor(st, engine, templates, Options{
		Audit:           audit,
		WorkDir:         cfg.WorkDir,
		DefaultTemplate: cfg.DefaultTemplate,
		WorkerID:        workerID,
	}), nil
}
