// Package fsops implements directory-level file system operations over a
// flat object store. Directory copy, move and delete fan out one object
// operation per entry of a point-in-time listing; they are neither atomic
// nor isolated from concurrent writers, and a partial failure is not rolled
// back.
package fsops

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/hierarchy"
	"github.com/fruitsalade/blobfm/pkg/models"
)

// DefaultParallelism bounds concurrent sub-operations of one fan-out.
const DefaultParallelism = 16

// Gateway is the set of single-object operations the engine composes.
type Gateway interface {
	List(ctx context.Context, prefix string) ([]models.ObjectEntry, error)
	CreateDirectory(ctx context.Context, path, name string) error
	Delete(ctx context.Context, name string) error
	Copy(ctx context.Context, src, dst string) error
	UploadAccessURL(ctx context.Context, name string) (string, error)
	PutBlock(ctx context.Context, uploadURL string, index int, data []byte) error
	PutBlockList(ctx context.Context, uploadURL string, count int) error
	DownloadURL(ctx context.Context, name string) (string, error)
}

// Options configure a FileSystem.
type Options struct {
	Parallelism int
}

// FileSystem is the hierarchical view over a Gateway.
type FileSystem struct {
	gw          Gateway
	parallelism int
}

// New creates a FileSystem.
func New(gw Gateway, opts Options) *FileSystem {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	return &FileSystem{gw: gw, parallelism: opts.Parallelism}
}

func clean(path string) string {
	return strings.Trim(path, models.PathSeparator)
}

// GetItems returns the files and subdirectories of the directory at path.
func (f *FileSystem) GetItems(ctx context.Context, path string) ([]models.FileSystemNode, error) {
	prefix := hierarchy.Prefix(path)
	entries, err := f.gw.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return hierarchy.Translate(entries, prefix), nil
}

// CreateDirectory creates directory name inside path.
func (f *FileSystem) CreateDirectory(ctx context.Context, path, name string) error {
	return f.gw.CreateDirectory(ctx, clean(path), name)
}

// DeleteFile deletes one file.
func (f *FileSystem) DeleteFile(ctx context.Context, path string) error {
	return f.gw.Delete(ctx, clean(path))
}

// CopyFile copies one file to dst.
func (f *FileSystem) CopyFile(ctx context.Context, src, dst string) error {
	return f.gw.Copy(ctx, clean(src), clean(dst))
}

// MoveFile copies src to dst and then deletes src. If the delete fails both
// copies remain.
func (f *FileSystem) MoveFile(ctx context.Context, src, dst string) error {
	src, dst = clean(src), clean(dst)
	if src == dst {
		return ErrSamePath
	}
	if err := f.gw.Copy(ctx, src, dst); err != nil {
		return err
	}
	return f.gw.Delete(ctx, src)
}

// RenameFile gives the file at path a new name in the same directory.
func (f *FileSystem) RenameFile(ctx context.Context, path, name string) error {
	return f.MoveFile(ctx, path, models.WithNewName(clean(path), name))
}

// DeleteDirectory deletes every object under path, including its marker.
func (f *FileSystem) DeleteDirectory(ctx context.Context, path string) ([]EntryResult, error) {
	path = clean(path)
	if path == "" {
		return nil, ErrRootPath
	}
	entries, err := f.gw.List(ctx, hierarchy.Prefix(path))
	if err != nil {
		return nil, err
	}
	return f.deleteEntries(ctx, path, entries)
}

// CopyDirectory copies every object under src to the same relative path
// under dst.
func (f *FileSystem) CopyDirectory(ctx context.Context, src, dst string) ([]EntryResult, error) {
	src, dst = clean(src), clean(dst)
	if src == "" || dst == "" {
		return nil, ErrRootPath
	}
	entries, err := f.gw.List(ctx, hierarchy.Prefix(src))
	if err != nil {
		return nil, err
	}
	return f.copyEntries(ctx, src, dst, entries)
}

// MoveDirectory copies the directory, then deletes exactly the objects that
// were copied. When any copy fails nothing is deleted, so a failed move
// leaves duplicates rather than losing data.
func (f *FileSystem) MoveDirectory(ctx context.Context, src, dst string) ([]EntryResult, error) {
	src, dst = clean(src), clean(dst)
	if src == "" || dst == "" {
		return nil, ErrRootPath
	}
	if src == dst {
		return nil, ErrSamePath
	}
	entries, err := f.gw.List(ctx, hierarchy.Prefix(src))
	if err != nil {
		return nil, err
	}
	results, err := f.copyEntries(ctx, src, dst, entries)
	if err != nil {
		return results, err
	}
	return f.deleteEntries(ctx, src, entries)
}

// RenameDirectory gives the directory at path a new name in the same parent.
func (f *FileSystem) RenameDirectory(ctx context.Context, path, name string) ([]EntryResult, error) {
	path = clean(path)
	return f.MoveDirectory(ctx, path, models.WithNewName(path, name))
}

// CopyItem copies a file or directory into the directory destDir.
func (f *FileSystem) CopyItem(ctx context.Context, path string, isDirectory bool, destDir string) ([]EntryResult, error) {
	path = clean(path)
	dst := models.JoinPath(clean(destDir), models.BaseName(path))
	if isDirectory {
		return f.CopyDirectory(ctx, path, dst)
	}
	return single(path, dst, f.CopyFile(ctx, path, dst))
}

// MoveItem moves a file or directory into the directory destDir.
func (f *FileSystem) MoveItem(ctx context.Context, path string, isDirectory bool, destDir string) ([]EntryResult, error) {
	path = clean(path)
	dst := models.JoinPath(clean(destDir), models.BaseName(path))
	if isDirectory {
		return f.MoveDirectory(ctx, path, dst)
	}
	return single(path, dst, f.MoveFile(ctx, path, dst))
}

// DownloadURL returns a read capability URL for the file at path.
func (f *FileSystem) DownloadURL(ctx context.Context, path string) (string, error) {
	return f.gw.DownloadURL(ctx, clean(path))
}

func single(src, dst string, err error) ([]EntryResult, error) {
	return []EntryResult{{Source: src, Target: dst, Err: err}}, err
}

func (f *FileSystem) deleteEntries(ctx context.Context, path string, entries []models.ObjectEntry) ([]EntryResult, error) {
	return f.fanout(ctx, "delete", path, entries, func(e models.ObjectEntry) (string, error) {
		return "", f.gw.Delete(ctx, e.Name)
	})
}

func (f *FileSystem) copyEntries(ctx context.Context, src, dst string, entries []models.ObjectEntry) ([]EntryResult, error) {
	srcPrefix, dstPrefix := hierarchy.Prefix(src), hierarchy.Prefix(dst)
	return f.fanout(ctx, "copy", src, entries, func(e models.ObjectEntry) (string, error) {
		target := dstPrefix + strings.TrimPrefix(e.Name, srcPrefix)
		return target, f.gw.Copy(ctx, e.Name, target)
	})
}

// fanout runs op for every entry with bounded parallelism and waits for all
// of them. A failed entry never stops its siblings.
func (f *FileSystem) fanout(ctx context.Context, name, path string, entries []models.ObjectEntry, op func(models.ObjectEntry) (string, error)) ([]EntryResult, error) {
	results := make([]EntryResult, len(entries))

	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for i, e := range entries {
		g.Go(func() error {
			target, err := op(e)
			results[i] = EntryResult{Source: e.Name, Target: target, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if ferr := newFanoutError(name, path, results); ferr != nil {
		logging.WithContext(ctx).Warn("directory operation partially failed",
			zap.String("op", name), zap.String("path", path),
			zap.Int("failed", len(ferr.Failed())), zap.Int("total", len(results)))
		return results, ferr
	}
	logging.WithContext(ctx).Debug("directory operation complete",
		zap.String("op", name), zap.String("path", path), zap.Int("entries", len(results)))
	return results, nil
}
