package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"protoscript/internal/models"
	"protoscript/internal/store"
)

func newTestStore(t *testing.T) (*Store, *store.DirBlob) {
	t.Helper()
	blob, err := store.NewDirBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new dir blob: %v", err)
	}
	return NewStore(blob), blob
}

func statusPtr(s models.Status) *models.Status { return &s }
func strPtr(s string) *string                   { return &s }

func TestStoreGetUnknownJobIsNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("get err = %v, want ErrNotFound", err)
	}
	if _, err := st.Result(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("result err = %v, want ErrNotFound", err)
	}
}

func TestStoreMergeUpdateKeepsDisjointFields(t *testing.T) {
	ctx := context.Background()
	st, blob := newTestStore(t)
	created := time.Date(2026, 1, 30, 21, 0, 0, 0, time.UTC)

	if err := st.Create(ctx, "job-1", models.JobUpdate{
		Status:       statusPtr(models.StatusPending),
		CreatedAt:    &created,
		TemplateName: strPtr("discord.md.j2"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	started := created.Add(time.Minute)
	if err := st.MergeUpdate(ctx, "job-1", models.JobUpdate{
		Status:    statusPtr(models.StatusProcessing),
		StartedAt: &started,
	}); err != nil {
		t.Fatalf("merge update: %v", err)
	}

	job, err := st.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.ID != "job-1" || job.Status != models.StatusProcessing || job.TemplateName != "discord.md.j2" {
		t.Fatalf("job = %+v", job)
	}
	if job.CreatedAt == nil || !job.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %s", job.CreatedAt, created)
	}
	if job.StartedAt == nil || !job.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %s", job.StartedAt, started)
	}
	if job.CompletedAt != nil || job.ErrorMessage != "" {
		t.Fatalf("unexpected terminal fields: %+v", job)
	}

	// Fields written by other writers survive a merge.
	if err := blob.Put(ctx, StatusKey("job-1"), []byte(`{"id":"job-1","status":"processing","owner":"ops"}`), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.MergeUpdate(ctx, "job-1", models.JobUpdate{Status: statusPtr(models.StatusCompleted)}); err != nil {
		t.Fatalf("merge update: %v", err)
	}
	raw, _ := blob.Get(ctx, StatusKey("job-1"))
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["owner"] != "ops" || doc["status"] != "completed" {
		t.Fatalf("doc = %v", doc)
	}
}

func TestStoreMergeUpdateOnMissingDocument(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	if err := st.MergeUpdate(ctx, "job-2", models.JobUpdate{Status: statusPtr(models.StatusProcessing)}); err != nil {
		t.Fatalf("merge update: %v", err)
	}
	job, err := st.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != models.StatusProcessing {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	st, blob := newTestStore(t)

	for _, id := range []string{"b", "a"} {
		if err := st.PutInputs(ctx, id, []byte(`{}`), []byte("audio")); err != nil {
			t.Fatalf("put inputs: %v", err)
		}
		if err := st.Create(ctx, id, models.JobUpdate{Status: statusPtr(models.StatusPending)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := st.SaveResult(ctx, "a", "# A"); err != nil {
		t.Fatalf("save result: %v", err)
	}

	ids, err := st.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Fatalf("ids = %v", ids)
	}

	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ := blob.List(ctx, "jobs/a/")
	if len(keys) != 0 {
		t.Fatalf("objects left after delete: %v", keys)
	}
	ids, _ = st.ListIDs(ctx)
	if !reflect.DeepEqual(ids, []string{"b"}) {
		t.Fatalf("ids after delete = %v", ids)
	}
}

func TestTemplateName(t *testing.T) {
	cases := map[string]string{
		"":                    "default.md.j2",
		"discord.md.j2":       "discord.md.j2",
		"../../etc/passwd":    "passwd",
		`..\..\secret.md.j2`:  "secret.md.j2",
		"  custom.md.j2  ":    "custom.md.j2",
		"templates/":          "templates",
	}
	for in, want := range cases {
		if got := TemplateName(in, "default.md.j2"); got != want {
			t.Fatalf("TemplateName(%q) = %q, want %q", in, got, want)
		}
	}
}
