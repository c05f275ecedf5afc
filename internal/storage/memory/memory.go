// Package memory provides an in-process storage backend for tests and development.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/blobfm/internal/storage"
)

type object struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

// MemoryBackend implements storage.Backend with a map guarded by a mutex.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*object
	now     func() time.Time
}

// New creates an empty memory backend.
func New() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]*object),
		now:     time.Now,
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func notFound(key string) error {
	return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
}

// GetObject returns a copy of the stored bytes, optionally ranged.
func (b *MemoryBackend) GetObject(_ context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, 0, notFound(key)
	}

	data := obj.data
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	data = data[offset:]
	if length > 0 && length < int64(len(data)) {
		data = data[:length]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return io.NopCloser(bytes.NewReader(out)), int64(len(out)), nil
}

// PutObject reads body fully and stores it under key.
func (b *MemoryBackend) PutObject(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body for %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: expected %d bytes, got %d", key, size, len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &object{
		data:        data,
		etag:        etagOf(data),
		contentType: contentType,
		modified:    b.now().UTC(),
	}
	return nil
}

// DeleteObject removes key.
func (b *MemoryBackend) DeleteObject(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return notFound(key)
	}
	delete(b.objects, key)
	return nil
}

// CopyObject duplicates srcKey under dstKey.
func (b *MemoryBackend) CopyObject(_ context.Context, srcKey, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.objects[srcKey]
	if !ok {
		return notFound(srcKey)
	}
	dst := *src
	dst.modified = b.now().UTC()
	b.objects[dstKey] = &dst
	return nil
}

// StatObject returns the properties of key.
func (b *MemoryBackend) StatObject(_ context.Context, key string) (*storage.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	info := obj.info(key)
	return &info, nil
}

// ListObjects returns all objects under prefix sorted by key.
func (b *MemoryBackend) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []storage.ObjectInfo
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.info(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SetContentType replaces the content type of key.
func (b *MemoryBackend) SetContentType(_ context.Context, key, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return notFound(key)
	}
	obj.contentType = contentType
	return nil
}

// Type returns "memory".
func (b *MemoryBackend) Type() string { return "memory" }

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

func (o *object) info(key string) storage.ObjectInfo {
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		LastModified: o.modified,
		ContentType:  o.contentType,
	}
}
