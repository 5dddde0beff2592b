package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// BlobStore is the path-addressed object store originals and derivatives
// live in. Paths are slash-separated and relative to the store root.
type BlobStore interface {
	Exists(ctx context.Context, p string) (bool, error)
	Read(ctx context.Context, p string) ([]byte, error)
	// Write must be atomic: readers see either the old object or the new one.
	Write(ctx context.Context, p string, data []byte) error
	Delete(ctx context.Context, p string) error
	// ListFiles returns every object below dir, recursively.
	ListFiles(ctx context.Context, dir string) ([]string, error)
	Stat(ctx context.Context, p string) (ObjectInfo, error)
	// Path returns the backend location of p (filesystem path, s3:// URL).
	Path(p string) string
}
