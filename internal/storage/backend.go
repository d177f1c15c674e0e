// Package storage defines the Backend interface for library objects: the
// file layer behind the library server and the target of publish.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for object storage backends.
// Implementations handle raw object I/O (local filesystem, S3).
// Keys are slash-separated and relative to the backend root.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key.
	DeleteObject(ctx context.Context, key string) error

	// StatObject returns the size of an object. A missing object is a
	// models.NotFoundError.
	StatObject(ctx context.Context, key string) (int64, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
