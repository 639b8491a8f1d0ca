package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"protoscript/internal/config"
)

// ErrObjectNotFound is returned by Get when no object exists under the key.
var ErrObjectNotFound = errors.New("object not found")

// Blob is whole-object key/value storage keyed by slash-separated paths.
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

func sanitizeKey(key string) string {
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}

// OpenBlob returns the backend selected by BLOB_BACKEND.
func OpenBlob(ctx context.Context, cfg config.Config) (Blob, error) {
	switch cfg.BlobBackend {
	case "s3", "":
		b, err := NewS3Blob(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "dir":
		b, err := NewDirBlob(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}
