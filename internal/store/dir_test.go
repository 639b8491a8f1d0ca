package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"protoscript/internal/config"
)

func TestDirBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob, err := NewDirBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new dir blob: %v", err)
	}

	if _, err := blob.Get(ctx, "jobs/a/status.json"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("missing get err = %v, want ErrObjectNotFound", err)
	}

	if err := blob.Put(ctx, "jobs/a/status.json", []byte(`{"id":"a"}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := blob.Put(ctx, "jobs/a/result.md", []byte("# hi"), "text/markdown"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := blob.Put(ctx, "jobs/b/status.json", []byte(`{"id":"b"}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := blob.Get(ctx, "jobs/a/status.json")
	if err != nil || string(got) != `{"id":"a"}` {
		t.Fatalf("get = %q, %v", got, err)
	}

	keys, err := blob.List(ctx, "jobs/a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"jobs/a/result.md", "jobs/a/status.json"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("list = %v, want %v", keys, want)
	}

	if err := blob.Delete(ctx, keys...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := blob.Delete(ctx, "jobs/a/never-existed"); err != nil {
		t.Fatalf("deleting a missing key should succeed: %v", err)
	}
	keys, _ = blob.List(ctx, "jobs/")
	if want := []string{"jobs/b/status.json"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("list after delete = %v, want %v", keys, want)
	}
}

func TestDirBlobKeysStayInsideBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	blob, err := NewDirBlob(filepath.Join(base, "blobs"))
	if err != nil {
		t.Fatalf("new dir blob: %v", err)
	}
	if err := blob.Put(ctx, "../escape.txt", []byte("x"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("key escaped the base directory")
	}
	if _, err := os.Stat(filepath.Join(base, "blobs", "escape.txt")); err != nil {
		t.Fatalf("expected sanitized object inside base: %v", err)
	}
}

func TestOpenBlobSelectsBackend(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBlob(ctx, config.Config{BlobBackend: "dir", BlobDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	if _, ok := b.(*DirBlob); !ok {
		t.Fatalf("backend = %T, want *DirBlob", b)
	}
	if _, err := OpenBlob(ctx, config.Config{BlobBackend: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
