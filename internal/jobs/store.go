// Package jobs owns the job-scoped object layout in the blob store and the
// status document semantics built on top of it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"protoscript/internal/models"
	"protoscript/internal/store"
)

const keyPrefix = "jobs/"

func MetaKey(id string) string   { return keyPrefix + id + "/meta.json" }
func AudioKey(id string) string  { return keyPrefix + id + "/audio.flac" }
func StatusKey(id string) string { return keyPrefix + id + "/status.json" }
func ResultKey(id string) string { return keyPrefix + id + "/result.md" }

// Store is the job status and result layer over a Blob.
type Store struct {
	blob store.Blob
}

func NewStore(blob store.Blob) *Store {
	return &Store{blob: blob}
}

// PutInputs stores the raw meta document and audio of a job.
func (s *Store) PutInputs(ctx context.Context, id string, meta, audio []byte) error {
	if err := s.blob.Put(ctx, MetaKey(id), meta, "application/json"); err != nil {
		return fmt.Errorf("upload meta: %w", err)
	}
	if err := s.blob.Put(ctx, AudioKey(id), audio, "audio/flac"); err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}
	return nil
}

// Meta returns the raw meta document of a job.
func (s *Store) Meta(ctx context.Context, id string) ([]byte, error) {
	return s.getObject(ctx, MetaKey(id))
}

// Audio returns the raw audio of a job.
func (s *Store) Audio(ctx context.Context, id string) ([]byte, error) {
	return s.getObject(ctx, AudioKey(id))
}

// Create writes the initial status document of a job.
func (s *Store) Create(ctx context.Context, id string, fields models.JobUpdate) error {
	fields.ID = &id
	return s.MergeUpdate(ctx, id, fields)
}

// MergeUpdate overlays the set fields of update on the stored status document.
// A missing document counts as empty. Fields not present in update, including
// ones this package does not know about, are written back unchanged.
func (s *Store) MergeUpdate(ctx context.Context, id string, update models.JobUpdate) error {
	doc := map[string]json.RawMessage{}
	raw, err := s.blob.Get(ctx, StatusKey(id))
	switch {
	case errors.Is(err, store.ErrObjectNotFound):
	case err != nil:
		return fmt.Errorf("read status: %w", err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
	}

	patch, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := s.blob.Put(ctx, StatusKey(id), body, "application/json"); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// Get reads the status document. It returns models.ErrNotFound when the job
// has no status document.
func (s *Store) Get(ctx context.Context, id string) (models.Job, error) {
	raw, err := s.getObject(ctx, StatusKey(id))
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return models.Job{}, fmt.Errorf("decode status %s: %w", id, err)
	}
	return job, nil
}

// SaveResult stores the rendered protocol of a job.
func (s *Store) SaveResult(ctx context.Context, id, text string) error {
	if err := s.blob.Put(ctx, ResultKey(id), []byte(text), "text/markdown"); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Result returns the rendered protocol, or models.ErrNotFound.
func (s *Store) Result(ctx context.Context, id string) (string, error) {
	raw, err := s.getObject(ctx, ResultKey(id))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ListIDs returns the id of every job with at least one stored object.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := s.blob.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, keyPrefix)
		id, _, ok := strings.Cut(rest, "/")
		if ok && id != "" {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes every object stored under the job's prefix.
func (s *Store) Delete(ctx context.Context, id string) error {
	keys, err := s.blob.List(ctx, keyPrefix+id+"/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.blob.Delete(ctx, keys...)
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.blob.Get(ctx, key)
	if errors.Is(err, store.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}
