package blobstore

import (
	"bufio"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/events"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// sniffLen is how much of a body is inspected to detect its content type.
const sniffLen = 3072

// handlePut dispatches every PUT on an object: whole-object upload,
// server-side copy, block staging, block commit and property updates.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	name, serr := s.resolve(r)
	if serr == nil && !validName(name) {
		serr = errInvalidName
	}
	if serr != nil {
		sendError(w, r, "put", serr)
		return
	}

	switch comp := r.URL.Query().Get("comp"); comp {
	case "":
		if r.Header.Get(protocol.HeaderCopySource) != "" {
			s.copyBlob(w, r, name)
			return
		}
		s.putBlob(w, r, name)
	case "block":
		s.stageBlock(w, r, name)
	case "blocklist":
		s.commitBlockList(w, r, name)
	case "properties":
		s.setProperties(w, r, name)
	default:
		sendError(w, r, "put", errInvalidQuery("comp"))
	}
}

// putBlob stores the request body as the whole object, replacing any
// existing one.
func (s *Server) putBlob(w http.ResponseWriter, r *http.Request, name string) {
	const op = "put"
	if _, serr := s.authorize(r, capability.ScopeBlob, name, capability.Write, capability.Create); serr != nil {
		sendError(w, r, op, serr)
		return
	}
	if r.Header.Get(protocol.HeaderBlobType) != protocol.BlobTypeBlockBlob {
		sendError(w, r, op, errMissingHeader(protocol.HeaderBlobType))
		return
	}

	declared := r.Header.Get(protocol.HeaderBlobContentType)
	if declared == "" {
		declared = r.Header.Get("Content-Type")
	}
	body, contentType := detectContentType(r.Body, declared)
	if err := s.backend.PutObject(r.Context(), name, body, r.ContentLength, contentType); err != nil {
		sendError(w, r, op, s.backendError(r, "put", name, err))
		return
	}

	info, err := s.backend.StatObject(r.Context(), name)
	if err != nil {
		sendError(w, r, op, s.backendError(r, "stat", name, err))
		return
	}
	s.publish(events.Event{Type: events.EventPut, Name: name, Size: info.Size, ETag: info.ETag})

	w.Header().Set("ETag", info.ETag)
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	sendStatus(w, op, http.StatusCreated)
}

// copyBlob copies the object named by a signed source URL onto name.
// The source URL must carry a Read capability for that object.
func (s *Server) copyBlob(w http.ResponseWriter, r *http.Request, name string) {
	const op = "copy"
	if _, serr := s.authorize(r, capability.ScopeBlob, name, capability.Create, capability.Write); serr != nil {
		sendError(w, r, op, serr)
		return
	}

	src, serr := s.copySource(r.Header.Get(protocol.HeaderCopySource))
	if serr != nil {
		sendError(w, r, op, serr)
		return
	}

	if err := s.backend.CopyObject(r.Context(), src, name); err != nil {
		serr := s.backendError(r, "copy", name, err)
		if serr == errBlobNotFound {
			serr = errCopySource(http.StatusNotFound, "The source blob does not exist.")
		}
		sendError(w, r, op, serr)
		return
	}

	logging.WithContext(r.Context()).Debug("object copied", zap.String("source", src), zap.String("name", name))
	s.publish(events.Event{Type: events.EventCopy, Name: name, Source: src})
	w.Header().Set(protocol.HeaderCopyStatus, "success")
	sendStatus(w, op, http.StatusAccepted)
}

// copySource resolves a signed source URL to the object name it grants
// Read on.
func (s *Server) copySource(raw string) (string, *storeError) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errCopySource(http.StatusBadRequest, "The copy source is not a valid URL.")
	}
	token := u.Query().Get(protocol.SignatureParam)
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return "", errCopySource(http.StatusForbidden, "The copy source signature did not match.")
	}
	if err := claims.Allows(capability.ScopeBlob, claims.Resource, capability.Read); err != nil || claims.Resource == "" {
		return "", errCopySource(http.StatusForbidden, "The copy source does not grant read access.")
	}
	if !strings.HasSuffix(u.Path, "/"+s.container+"/"+claims.Resource) {
		return "", errCopySource(http.StatusForbidden, "The copy source URL does not match its signature.")
	}
	if !validName(claims.Resource) {
		return "", errInvalidName
	}
	return claims.Resource, nil
}

// setProperties replaces the stored content type of an object.
func (s *Server) setProperties(w http.ResponseWriter, r *http.Request, name string) {
	const op = "properties"
	if _, serr := s.authorize(r, capability.ScopeBlob, name, capability.Write); serr != nil {
		sendError(w, r, op, serr)
		return
	}
	contentType := r.Header.Get(protocol.HeaderBlobContentType)
	if contentType == "" {
		sendError(w, r, op, errMissingHeader(protocol.HeaderBlobContentType))
		return
	}

	if err := s.backend.SetContentType(r.Context(), name, contentType); err != nil {
		sendError(w, r, op, s.backendError(r, "set content type", name, err))
		return
	}
	s.publish(events.Event{Type: events.EventProperties, Name: name})
	sendStatus(w, op, http.StatusOK)
}

// detectContentType returns the declared type when set, otherwise sniffs the
// leading bytes of body. The returned reader yields the full body.
func detectContentType(body io.Reader, declared string) (io.Reader, string) {
	if declared != "" {
		return body, declared
	}
	br := bufio.NewReaderSize(body, sniffLen)
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return br, "application/octet-stream"
	}
	return br, mimetype.Detect(head).String()
}
