// Package storagetest holds behaviour tests every storage.Backend must pass.
package storagetest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fruitsalade/blobfm/internal/storage"
)

// Run exercises b against the storage.Backend contract.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newBackend(t)) })
	t.Run("Range", func(t *testing.T) { testRange(t, newBackend(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newBackend(t)) })
	t.Run("FlatKeys", func(t *testing.T) { testFlatKeys(t, newBackend(t)) })
	t.Run("CopyKeepsContentType", func(t *testing.T) { testCopy(t, newBackend(t)) })
	t.Run("ListPrefix", func(t *testing.T) { testList(t, newBackend(t)) })
	t.Run("SetContentType", func(t *testing.T) { testSetContentType(t, newBackend(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newBackend(t)) })
}

func put(t *testing.T, b storage.Backend, key, body, contentType string) {
	t.Helper()
	if err := b.PutObject(context.Background(), key, strings.NewReader(body), int64(len(body)), contentType); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func read(t *testing.T, b storage.Backend, key string, offset, length int64) string {
	t.Helper()
	rc, _, err := b.GetObject(context.Background(), key, offset, length)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func testPutGet(t *testing.T, b storage.Backend) {
	put(t, b, "docs/readme.txt", "abc", "text/plain")
	if got := read(t, b, "docs/readme.txt", 0, 0); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	info, err := b.StatObject(context.Background(), "docs/readme.txt")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 3 || info.ContentType != "text/plain" || info.ETag == "" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.LastModified.IsZero() {
		t.Error("expected last modified")
	}
}

func testRange(t *testing.T, b storage.Backend) {
	put(t, b, "r", "0123456789", "")
	if got := read(t, b, "r", 2, 3); got != "234" {
		t.Errorf("expected 234, got %q", got)
	}
	if got := read(t, b, "r", 7, 0); got != "789" {
		t.Errorf("expected 789, got %q", got)
	}
}

func testNotFound(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	if _, err := b.StatObject(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stat: expected ErrNotFound, got %v", err)
	}
	if _, _, err := b.GetObject(ctx, "missing", 0, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get: expected ErrNotFound, got %v", err)
	}
	if err := b.DeleteObject(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("delete: expected ErrNotFound, got %v", err)
	}
	if err := b.CopyObject(ctx, "missing", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("copy: expected ErrNotFound, got %v", err)
	}
	ok, err := storage.ObjectExists(ctx, b, "missing")
	if err != nil || ok {
		t.Errorf("exists: expected false, nil; got %v, %v", ok, err)
	}
}

func testFlatKeys(t *testing.T, b storage.Backend) {
	put(t, b, "a", "file", "")
	put(t, b, "a/b", "nested", "")
	put(t, b, "..", "dots", "")
	if got := read(t, b, "a", 0, 0); got != "file" {
		t.Errorf("expected file, got %q", got)
	}
	if got := read(t, b, "a/b", 0, 0); got != "nested" {
		t.Errorf("expected nested, got %q", got)
	}
	if got := read(t, b, "..", 0, 0); got != "dots" {
		t.Errorf("expected dots, got %q", got)
	}
}

func testCopy(t *testing.T, b storage.Backend) {
	put(t, b, "src/x.bin", "payload", "application/x-test")
	if err := b.CopyObject(context.Background(), "src/x.bin", "dst/x.bin"); err != nil {
		t.Fatal(err)
	}
	if got := read(t, b, "dst/x.bin", 0, 0); got != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
	info, err := b.StatObject(context.Background(), "dst/x.bin")
	if err != nil {
		t.Fatal(err)
	}
	if info.ContentType != "application/x-test" {
		t.Errorf("expected content type copied, got %q", info.ContentType)
	}
}

func testList(t *testing.T, b storage.Backend) {
	for _, k := range []string{"docs/b.txt", "docs/a.txt", "docs/sub/c.txt", "other/d.txt", "docsx"} {
		put(t, b, k, k, "")
	}
	got, err := b.ListObjects(context.Background(), "docs/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"docs/a.txt", "docs/b.txt", "docs/sub/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("expected %d objects, got %d: %+v", len(want), len(got), got)
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("entry %d: expected %s, got %s", i, k, got[i].Key)
		}
		if got[i].Size != int64(len(k)) {
			t.Errorf("entry %d: expected size %d, got %d", i, len(k), got[i].Size)
		}
	}

	all, err := b.ListObjects(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("expected 5 objects with empty prefix, got %d", len(all))
	}
}

func testSetContentType(t *testing.T, b storage.Backend) {
	put(t, b, "f", "x", "text/plain")
	if err := b.SetContentType(context.Background(), "f", "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	info, err := b.StatObject(context.Background(), "f")
	if err != nil {
		t.Fatal(err)
	}
	if info.ContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %q", info.ContentType)
	}
	if err := b.SetContentType(context.Background(), "nope", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testDelete(t *testing.T, b storage.Backend) {
	put(t, b, "gone", "x", "")
	if err := b.DeleteObject(context.Background(), "gone"); err != nil {
		t.Fatal(err)
	}
	ok, err := storage.ObjectExists(context.Background(), b, "gone")
	if err != nil || ok {
		t.Errorf("expected deleted object to be absent, got %v, %v", ok, err)
	}
}
