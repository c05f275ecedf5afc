package fsops

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the block size used by UploadFile.
const DefaultChunkSize = 4 << 20

// UploadSession carries the write capability shared by all chunks of one
// upload. It is minted once, on chunk 0, and must not be shared between
// uploads.
type UploadSession struct {
	Name      string
	accessURL string
}

// NewUploadSession starts an upload session for the file at path.
func NewUploadSession(path string) *UploadSession {
	return &UploadSession{Name: clean(path)}
}

// UploadChunk stages chunk index of total. Chunk 0 mints the session
// capability; the last chunk also commits blocks 0..total-1 in order.
func (f *FileSystem) UploadChunk(ctx context.Context, s *UploadSession, index int, chunk []byte, total int) error {
	if index < 0 || index >= total {
		return fmt.Errorf("chunk %d out of range for %d chunks", index, total)
	}
	if err := f.stage(ctx, s, index, chunk); err != nil {
		return err
	}
	if index == total-1 {
		return f.gw.PutBlockList(ctx, s.accessURL, total)
	}
	return nil
}

func (f *FileSystem) stage(ctx context.Context, s *UploadSession, index int, chunk []byte) error {
	if index == 0 {
		url, err := f.gw.UploadAccessURL(ctx, s.Name)
		if err != nil {
			return err
		}
		s.accessURL = url
	}
	if s.accessURL == "" {
		return ErrUploadNotStarted
	}
	return f.gw.PutBlock(ctx, s.accessURL, index, chunk)
}

// UploadFile uploads r to path in chunks of chunkSize bytes and returns the
// number of bytes written. An empty reader produces an empty file.
func (f *FileSystem) UploadFile(ctx context.Context, path string, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := NewUploadSession(path)
	buf := make([]byte, chunkSize)

	var written int64
	count := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if serr := f.stage(ctx, s, count, buf[:n]); serr != nil {
				return written, serr
			}
			written += int64(n)
			count++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if count == 0 {
		url, err := f.gw.UploadAccessURL(ctx, s.Name)
		if err != nil {
			return 0, err
		}
		s.accessURL = url
	}
	if err := f.gw.PutBlockList(ctx, s.accessURL, count); err != nil {
		return written, err
	}
	return written, nil
}
