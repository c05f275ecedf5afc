package blobstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/events"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/internal/storage"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

const (
	// stagingPrefix holds uncommitted blocks. It is hidden from listings
	// and cannot be addressed by clients.
	stagingPrefix = ".uncommitted/"

	maxBlockIDLen    = 64
	maxBlockListBody = 4 << 20
)

func stagingDir(name string) string {
	return stagingPrefix + url.PathEscape(name) + "/"
}

func stagedKey(name string, id []byte) string {
	return stagingDir(name) + hex.EncodeToString(id)
}

func decodeBlockID(raw string) ([]byte, bool) {
	id, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(id) == 0 || len(id) > maxBlockIDLen {
		return nil, false
	}
	return id, true
}

// stageBlock stores one uncommitted block for name.
func (s *Server) stageBlock(w http.ResponseWriter, r *http.Request, name string) {
	const op = "stage"
	if _, serr := s.authorize(r, capability.ScopeBlob, name, capability.Write, capability.Create); serr != nil {
		sendError(w, r, op, serr)
		return
	}
	id, ok := decodeBlockID(r.URL.Query().Get("blockid"))
	if !ok {
		sendError(w, r, op, errInvalidBlockID)
		return
	}
	if r.ContentLength == 0 {
		sendError(w, r, op, errEmptyBlock)
		return
	}

	key := stagedKey(name, id)
	if err := s.backend.PutObject(r.Context(), key, r.Body, r.ContentLength, "application/octet-stream"); err != nil {
		sendError(w, r, op, s.backendError(r, "stage", name, err))
		return
	}
	sendStatus(w, op, http.StatusCreated)
}

// commitBlockList assembles the listed staged blocks, in list order, into
// the object. Duplicate IDs are allowed. Every staged block of the object is
// discarded afterwards.
func (s *Server) commitBlockList(w http.ResponseWriter, r *http.Request, name string) {
	const op = "commit"
	if _, serr := s.authorize(r, capability.ScopeBlob, name, capability.Write, capability.Create); serr != nil {
		sendError(w, r, op, serr)
		return
	}

	var list protocol.BlockList
	if err := xml.NewDecoder(io.LimitReader(r.Body, maxBlockListBody)).Decode(&list); err != nil {
		sendError(w, r, op, errInvalidXML)
		return
	}

	ctx := r.Context()
	keys := make([]string, 0, len(list.Blocks))
	var total int64
	idLen := -1
	for _, ref := range list.Blocks {
		switch ref.XMLName.Local {
		case "Latest", "Uncommitted":
		default:
			sendError(w, r, op, errInvalidBlockList)
			return
		}
		id, ok := decodeBlockID(ref.ID)
		if !ok {
			sendError(w, r, op, errInvalidBlockID)
			return
		}
		if idLen >= 0 && len(id) != idLen {
			sendError(w, r, op, errInvalidBlockList)
			return
		}
		idLen = len(id)

		key := stagedKey(name, id)
		info, err := s.backend.StatObject(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				sendError(w, r, op, errInvalidBlockList)
			} else {
				sendError(w, r, op, s.backendError(r, "stat block", name, err))
			}
			return
		}
		keys = append(keys, key)
		total += info.Size
	}

	body, contentType := detectContentType(&blockReader{ctx: ctx, backend: s.backend, keys: keys}, r.Header.Get(protocol.HeaderBlobContentType))
	if err := s.backend.PutObject(ctx, name, body, total, contentType); err != nil {
		metrics.RecordBlockCommit(total, false)
		sendError(w, r, op, s.backendError(r, "commit", name, err))
		return
	}
	metrics.RecordBlockCommit(total, true)

	if _, err := s.discardStaged(ctx, name); err != nil {
		logging.WithContext(ctx).Warn("discard staged blocks", zap.String("name", name), zap.Error(err))
	}

	info, err := s.backend.StatObject(ctx, name)
	if err != nil {
		sendError(w, r, op, s.backendError(r, "stat", name, err))
		return
	}
	s.publish(events.Event{Type: events.EventCommit, Name: name, Size: info.Size, ETag: info.ETag})

	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	sendStatus(w, op, http.StatusCreated)
}

func (s *Server) discardStaged(ctx context.Context, name string) (int, error) {
	staged, err := s.backend.ListObjects(ctx, stagingDir(name))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, obj := range staged {
		if err := s.backend.DeleteObject(ctx, obj.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

// SweepStagedBlocks deletes staged blocks older than maxAge and returns how
// many were removed.
func (s *Server) SweepStagedBlocks(ctx context.Context, maxAge time.Duration) (int, error) {
	staged, err := s.backend.ListObjects(ctx, stagingPrefix)
	if err != nil {
		return 0, fmt.Errorf("list staged blocks: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	n := 0
	for _, obj := range staged {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.backend.DeleteObject(ctx, obj.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, fmt.Errorf("delete staged block %s: %w", obj.Key, err)
		}
		n++
	}
	metrics.RecordStagedBlocksSwept(n)
	return n, nil
}

// RunSweeper calls SweepStagedBlocks every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepStagedBlocks(ctx, maxAge)
			if err != nil {
				logging.Warn("staged block sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logging.Info("swept staged blocks", zap.Int("count", n))
			}
		}
	}
}

// blockReader reads staged blocks back to back, opening each lazily.
type blockReader struct {
	ctx     context.Context
	backend storage.Backend
	keys    []string
	cur     io.ReadCloser
}

func (b *blockReader) Read(p []byte) (int, error) {
	for {
		if b.cur == nil {
			if len(b.keys) == 0 {
				return 0, io.EOF
			}
			rc, _, err := b.backend.GetObject(b.ctx, b.keys[0], 0, 0)
			if err != nil {
				return 0, fmt.Errorf("open block: %w", err)
			}
			b.cur = rc
			b.keys = b.keys[1:]
		}
		n, err := b.cur.Read(p)
		if err == io.EOF {
			b.cur.Close()
			b.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}
