// Package blobstore serves a flat object namespace over HTTP using the block
// blob wire format: XML container listings, signed-URL authorization, block
// staging and commit, and server-side copy.
package blobstore

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/events"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/internal/storage"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

const defaultMaxListResults = 5000

var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// Options configure a Server.
type Options struct {
	Backend        storage.Backend
	Account        capability.Account
	MaxListResults int
	Broadcaster    *events.Broadcaster
}

// Server is the object store HTTP server.
type Server struct {
	backend        storage.Backend
	container      string
	verifier       *capability.Verifier
	maxListResults int
	broadcaster    *events.Broadcaster
	now            func() time.Time
}

// NewServer creates a new object store server.
func NewServer(opts Options) *Server {
	maxList := opts.MaxListResults
	if maxList <= 0 {
		maxList = defaultMaxListResults
	}
	return &Server{
		backend:        opts.Backend,
		container:      opts.Account.Container,
		verifier:       capability.NewVerifier(opts.Account),
		maxListResults: maxList,
		broadcaster:    opts.Broadcaster,
		now:            time.Now,
	}
}

// Handler returns the HTTP handler for the store.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.SkipClean(true)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/{container}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/{container}/{blob:.+}", s.handleGet).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{container}/{blob:.+}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/{container}/{blob:.+}", s.handleDelete).Methods(http.MethodDelete)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r, "unsupported", errUnsupportedVerb)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, r, "unknown", errContainerNotFound)
	})

	return metrics.MiddlewareWithLabel(routeLabel, logging.Middleware(r))
}

// routeLabel keeps object names out of metric labels.
func routeLabel(r *http.Request) string {
	switch {
	case r.URL.Path == "/health" || r.URL.Path == "/events":
		return r.URL.Path
	case strings.Count(strings.TrimPrefix(r.URL.Path, "/"), "/") == 0:
		return "/{container}"
	default:
		return "/{container}/{blob}"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","backend":%q}`, s.backend.Type())
}

// resolve checks the container segment and returns the object name.
func (s *Server) resolve(r *http.Request) (string, *storeError) {
	vars := mux.Vars(r)
	if vars["container"] != s.container {
		return "", errContainerNotFound
	}
	return vars["blob"], nil
}

// handleList serves GET /{container}?restype=container&comp=list.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	const op = "list"
	if _, serr := s.resolve(r); serr != nil {
		sendError(w, r, op, serr)
		return
	}
	q := r.URL.Query()
	if q.Get("restype") != "container" {
		sendError(w, r, op, errInvalidQuery("restype"))
		return
	}
	if q.Get("comp") != "list" {
		sendError(w, r, op, errInvalidQuery("comp"))
		return
	}
	if _, serr := s.authorize(r, capability.ScopeContainer, "", capability.List); serr != nil {
		sendError(w, r, op, serr)
		return
	}

	limit := s.maxListResults
	if v := q.Get("maxresults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, r, op, errInvalidQuery("maxresults"))
			return
		}
		if n < limit {
			limit = n
		}
	}
	prefix := q.Get("prefix")
	marker := q.Get("marker")

	objects, err := s.backend.ListObjects(r.Context(), prefix)
	if err != nil {
		logging.WithContext(r.Context()).Error("list objects", zap.String("prefix", prefix), zap.Error(err))
		sendError(w, r, op, errInternal)
		return
	}

	result := protocol.EnumerationResults{
		ContainerName: s.container,
		Prefix:        prefix,
		Marker:        marker,
		MaxResults:    limit,
		Blobs:         []protocol.Blob{},
	}
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, stagingPrefix) || (marker != "" && obj.Key <= marker) {
			continue
		}
		if len(result.Blobs) == limit {
			result.NextMarker = result.Blobs[limit-1].Name
			break
		}
		result.Blobs = append(result.Blobs, protocol.Blob{
			Name: obj.Key,
			Properties: protocol.BlobProperties{
				LastModified:  obj.LastModified.UTC().Format(http.TimeFormat),
				Etag:          obj.ETag,
				ContentLength: obj.Size,
				ContentType:   obj.ContentType,
			},
		})
	}

	metrics.RecordStoreRequest(op, http.StatusOK)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	if err := xml.NewEncoder(w).Encode(result); err != nil {
		logging.WithContext(r.Context()).Warn("encode listing", zap.Error(err))
	}
}

// handleGet serves object downloads and property reads (HEAD).
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	op := "get"
	if r.Method == http.MethodHead {
		op = "head"
	}
	name, serr := s.resolve(r)
	if serr == nil && !validName(name) {
		serr = errInvalidName
	}
	if serr == nil {
		_, serr = s.authorize(r, capability.ScopeBlob, name, capability.Read)
	}
	if serr != nil {
		sendError(w, r, op, serr)
		return
	}

	info, err := s.backend.StatObject(r.Context(), name)
	if err != nil {
		sendError(w, r, op, s.backendError(r, "stat", name, err))
		return
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set(protocol.HeaderBlobType, protocol.BlobTypeBlockBlob)

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		sendStatus(w, op, http.StatusOK)
		return
	}

	offset, length, hasRange := int64(0), info.Size, false
	if info.Size > 0 {
		offset, length, hasRange = parseRangeHeader(r.Header.Get("Range"), info.Size)
	}

	var body io.ReadCloser
	if length > 0 {
		body, _, err = s.backend.GetObject(r.Context(), name, offset, length)
		if err != nil {
			sendError(w, r, op, s.backendError(r, "get", name, err))
			return
		}
		defer body.Close()
	}

	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	status := http.StatusOK
	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, info.Size))
		status = http.StatusPartialContent
	}
	sendStatus(w, op, status)
	if body != nil {
		if _, err := io.Copy(w, body); err != nil {
			logging.WithContext(r.Context()).Warn("stream object", zap.String("name", name), zap.Error(err))
		}
	}
}

// handleDelete removes an object. The store answers 202 Accepted.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "delete"
	name, serr := s.resolve(r)
	if serr == nil && !validName(name) {
		serr = errInvalidName
	}
	if serr == nil {
		_, serr = s.authorize(r, capability.ScopeBlob, name, capability.Delete)
	}
	if serr != nil {
		sendError(w, r, op, serr)
		return
	}

	if err := s.backend.DeleteObject(r.Context(), name); err != nil {
		sendError(w, r, op, s.backendError(r, "delete", name, err))
		return
	}
	s.publish(events.Event{Type: events.EventDelete, Name: name})
	sendStatus(w, op, http.StatusAccepted)
}

// handleEvents streams change notifications to holders of a container
// List capability. An optional prefix query narrows the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "events"
	if s.broadcaster == nil {
		sendError(w, r, op, errUnsupportedVerb)
		return
	}
	if _, serr := s.authorize(r, capability.ScopeContainer, "", capability.List); serr != nil {
		sendError(w, r, op, serr)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, r, op, errInternal)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	sendStatus(w, op, http.StatusOK)
	flusher.Flush()

	sub := s.broadcaster.Subscribe(r.URL.Query().Get("prefix"))
	defer s.broadcaster.Unsubscribe(sub)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := events.WriteSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) publish(e events.Event) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(e)
}

// backendError maps a backend failure to a store error, logging the
// unexpected ones.
func (s *Server) backendError(r *http.Request, action, name string, err error) *storeError {
	if errors.Is(err, storage.ErrNotFound) {
		return errBlobNotFound
	}
	logging.WithContext(r.Context()).Error("backend "+action+" failed",
		zap.String("name", name), zap.String("backend", s.backend.Type()), zap.Error(err))
	return errInternal
}

// parseRangeHeader parses a single "bytes=start-end" range, clamped to
// totalSize. Malformed headers are ignored.
func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil || (matches[1] == "" && matches[2] == "") {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]

	if startStr == "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		return offset, totalSize - offset, true
	}

	offset, _ = strconv.ParseInt(startStr, 10, 64)
	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}

	if offset >= totalSize {
		offset = totalSize - 1
	}
	if length <= 0 || offset+length > totalSize {
		length = totalSize - offset
	}
	return offset, length, true
}
