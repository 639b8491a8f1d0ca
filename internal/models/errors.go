package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Match them with errors.Is.
var (
	ErrInput    = errors.New("input error")
	ErrEngine   = errors.New("engine error")
	ErrRender   = errors.New("render error")
	ErrStore    = errors.New("store error")
	ErrNotFound = errors.New("not found")
)

// StageError ties a failure to the pipeline stage that produced it.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{e.Kind, e.Err}
}

func InputError(stage string, err error) error  { return &StageError{Stage: stage, Kind: ErrInput, Err: err} }
func EngineError(stage string, err error) error { return &StageError{Stage: stage, Kind: ErrEngine, Err: err} }
func RenderError(stage string, err error) error { return &StageError{Stage: stage, Kind: ErrRender, Err: err} }
func StoreError(stage string, err error) error  { return &StageError{Stage: stage, Kind: ErrStore, Err: err} }
