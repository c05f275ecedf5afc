// Package storage defines the Backend interface for the bytes under the object store.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (wrapped) when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// Backend is the interface for byte storage backends.
// Implementations handle raw object I/O over a flat key space (memory, local
// filesystem, S3). Keys may contain "/" but carry no directory semantics.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject stores content under key, replacing any existing object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// DeleteObject removes an object by key. Missing keys return ErrNotFound.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies an object and its content type from srcKey to dstKey.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// StatObject returns the properties of an object.
	StatObject(ctx context.Context, key string) (*ObjectInfo, error)

	// ListObjects returns every object whose key starts with prefix, sorted by key.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// SetContentType replaces the stored content type of an object.
	SetContentType(ctx context.Context, key, contentType string) error

	// Type returns the backend type identifier ("memory", "local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// ObjectExists reports whether key exists in b.
func ObjectExists(ctx context.Context, b Backend, key string) (bool, error) {
	_, err := b.StatObject(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
