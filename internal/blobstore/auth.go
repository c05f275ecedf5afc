package blobstore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// maxNameLength bounds object names.
const maxNameLength = 1024

// authorize verifies the request signature and checks that it grants one of
// ops on the container (empty name) or the named object.
func (s *Server) authorize(r *http.Request, scope capability.Scope, name string, ops ...capability.Operation) (*capability.Claims, *storeError) {
	return s.authorizeToken(r.URL.Query().Get(protocol.SignatureParam), scope, name, ops...)
}

func (s *Server) authorizeToken(token string, scope capability.Scope, name string, ops ...capability.Operation) (*capability.Claims, *storeError) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, capability.ErrExpired) {
			reason = "expired"
		}
		metrics.RecordCapabilityRejection(reason)
		if reason == "expired" {
			return nil, errAuthenticationFailed("Signed expiry time has passed.")
		}
		return nil, errAuthenticationFailed("Signature did not match.")
	}

	if err := claims.Allows(scope, name, ops...); err != nil {
		if errors.Is(err, capability.ErrResourceMismatch) {
			metrics.RecordCapabilityRejection("resource")
			return nil, errResourceTypeMismatch
		}
		metrics.RecordCapabilityRejection("permission")
		return nil, errPermissionMismatch
	}
	return claims, nil
}

// validName rejects names clients may not address directly.
func validName(name string) bool {
	if name == "" || len(name) > maxNameLength {
		return false
	}
	return !strings.HasPrefix(name, stagingPrefix)
}
