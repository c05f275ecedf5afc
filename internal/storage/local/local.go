// Package local provides a local filesystem storage backend.
//
// Keys are stored flat: each object is one file under objects/ whose name is
// the path-escaped key, so "a" and "a/b" can coexist as on any object store.
// Content type and ETag live in a JSON sidecar under meta/.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fruitsalade/blobfm/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// LocalBackend implements storage.Backend using the local filesystem.
type LocalBackend struct {
	objectsDir string
	metaDir    string
	tmpDir     string
}

type sidecar struct {
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if !os.IsNotExist(err) || !cfg.CreateDirs {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	b := &LocalBackend{
		objectsDir: filepath.Join(cfg.RootPath, "objects"),
		metaDir:    filepath.Join(cfg.RootPath, "meta"),
		tmpDir:     filepath.Join(cfg.RootPath, "tmp"),
	}
	for _, dir := range []string{b.objectsDir, b.metaDir, b.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return b, nil
}

func escapeKey(key string) string {
	name := url.PathEscape(key)
	switch name {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return name
}

func (b *LocalBackend) dataPath(key string) string {
	return filepath.Join(b.objectsDir, escapeKey(key))
}

func (b *LocalBackend) metaPath(key string) string {
	return filepath.Join(b.metaDir, escapeKey(key)+".json")
}

func wrapNotExist(key string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return err
}

// GetObject reads a file from the local filesystem with range support.
func (b *LocalBackend) GetObject(_ context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	f, err := os.Open(b.dataPath(key))
	if err != nil {
		return nil, 0, wrapNotExist(key, fmt.Errorf("open %s: %w", key, err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("seek %s: %w", key, err)
		}
	}

	remaining := info.Size() - offset
	if remaining < 0 {
		remaining = 0
	}
	if length > 0 && length < remaining {
		return &limitedReadCloser{
			Reader: io.LimitReader(f, length),
			Closer: f,
		}, length, nil
	}
	return f, remaining, nil
}

// writeAtomic streams body into a temp file and renames it over path.
func (b *LocalBackend) writeAtomic(path string, body io.Reader) (int64, string, error) {
	tmp, err := os.CreateTemp(b.tmpDir, "blobfm-*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	hash := md5.New()
	n, err := io.Copy(tmp, io.TeeReader(body, hash))
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("rename temp: %w", err)
	}
	return n, `"` + hex.EncodeToString(hash.Sum(nil)) + `"`, nil
}

func (b *LocalBackend) writeMeta(key string, meta sidecar) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, _, err := b.writeAtomic(b.metaPath(key), strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write metadata for %s: %w", key, err)
	}
	return nil
}

func (b *LocalBackend) readMeta(key string) sidecar {
	var meta sidecar
	data, err := os.ReadFile(b.metaPath(key))
	if err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta
}

// PutObject writes content to the local filesystem atomically.
func (b *LocalBackend) PutObject(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	n, etag, err := b.writeAtomic(b.dataPath(key), body)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if size >= 0 && n != size {
		os.Remove(b.dataPath(key))
		return fmt.Errorf("put %s: expected %d bytes, got %d", key, size, n)
	}
	return b.writeMeta(key, sidecar{ContentType: contentType, ETag: etag})
}

// DeleteObject removes a file and its metadata.
func (b *LocalBackend) DeleteObject(_ context.Context, key string) error {
	if err := os.Remove(b.dataPath(key)); err != nil {
		return wrapNotExist(key, fmt.Errorf("delete %s: %w", key, err))
	}
	if err := os.Remove(b.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete metadata for %s: %w", key, err)
	}
	return nil
}

// CopyObject copies a file and its metadata.
func (b *LocalBackend) CopyObject(_ context.Context, srcKey, dstKey string) error {
	src, err := os.Open(b.dataPath(srcKey))
	if err != nil {
		return wrapNotExist(srcKey, fmt.Errorf("open src %s: %w", srcKey, err))
	}
	defer src.Close()

	if _, _, err := b.writeAtomic(b.dataPath(dstKey), src); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return b.writeMeta(dstKey, b.readMeta(srcKey))
}

// StatObject returns size, mtime and sidecar metadata for key.
func (b *LocalBackend) StatObject(_ context.Context, key string) (*storage.ObjectInfo, error) {
	fi, err := os.Stat(b.dataPath(key))
	if err != nil {
		return nil, wrapNotExist(key, fmt.Errorf("stat %s: %w", key, err))
	}
	info := b.objectInfo(key, fi)
	return &info, nil
}

func (b *LocalBackend) objectInfo(key string, fi os.FileInfo) storage.ObjectInfo {
	meta := b.readMeta(key)
	etag := meta.ETag
	if etag == "" {
		etag = fmt.Sprintf(`"0x%X"`, fi.ModTime().UnixNano())
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ETag:         etag,
		LastModified: fi.ModTime().UTC(),
		ContentType:  meta.ContentType,
	}
}

// ListObjects scans the objects directory for keys starting with prefix.
func (b *LocalBackend) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	entries, err := os.ReadDir(b.objectsDir)
	if err != nil {
		return nil, fmt.Errorf("read objects dir: %w", err)
	}

	var out []storage.ObjectInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, b.objectInfo(key, fi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SetContentType rewrites the metadata sidecar of key.
func (b *LocalBackend) SetContentType(_ context.Context, key, contentType string) error {
	if _, err := os.Stat(b.dataPath(key)); err != nil {
		return wrapNotExist(key, fmt.Errorf("stat %s: %w", key, err))
	}
	meta := b.readMeta(key)
	meta.ContentType = contentType
	return b.writeMeta(key, meta)
}

// Type returns "local".
func (b *LocalBackend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *LocalBackend) Close() error { return nil }

// limitedReadCloser wraps a LimitReader with a separate Closer.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}
