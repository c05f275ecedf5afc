package blobstore

import (
	"encoding/xml"
	"net/http"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/pkg/protocol"
	"go.uber.org/zap"
)

// storeError is an error response with a stable machine-readable code.
type storeError struct {
	status  int
	code    string
	message string
}

func (e *storeError) Error() string { return e.code + ": " + e.message }

func newError(status int, code, message string) *storeError {
	return &storeError{status: status, code: code, message: message}
}

var (
	errContainerNotFound    = newError(http.StatusNotFound, "ContainerNotFound", "The specified container does not exist.")
	errBlobNotFound         = newError(http.StatusNotFound, "BlobNotFound", "The specified blob does not exist.")
	errPermissionMismatch   = newError(http.StatusForbidden, "AuthorizationPermissionMismatch", "This request is not authorized to perform this operation using this permission.")
	errResourceTypeMismatch = newError(http.StatusForbidden, "AuthorizationResourceTypeMismatch", "This request is not authorized to perform this operation using this resource type.")
	errInvalidBlockList     = newError(http.StatusBadRequest, "InvalidBlockList", "The specified block list is invalid.")
	errInvalidBlockID       = newError(http.StatusBadRequest, "InvalidBlockId", "The specified block ID is invalid. The block ID must be Base64-encoded and all IDs of a blob must have the same length.")
	errInvalidXML           = newError(http.StatusBadRequest, "InvalidXmlDocument", "XML specified is not syntactically valid.")
	errInvalidName          = newError(http.StatusBadRequest, "InvalidResourceName", "The specified resource name contains invalid characters.")
	errEmptyBlock           = newError(http.StatusBadRequest, "InvalidHeaderValue", "A block must contain at least one byte.")
	errUnsupportedVerb      = newError(http.StatusMethodNotAllowed, "UnsupportedHttpVerb", "The resource doesn't support specified Http Verb.")
	errInternal             = newError(http.StatusInternalServerError, "InternalError", "The server encountered an internal error. Please retry the request.")
)

func errAuthenticationFailed(detail string) *storeError {
	return newError(http.StatusForbidden, "AuthenticationFailed", "Server failed to authenticate the request. "+detail)
}

func errInvalidQuery(param string) *storeError {
	return newError(http.StatusBadRequest, "InvalidQueryParameterValue", "Value for one of the query parameters specified in the request URI is invalid: "+param)
}

func errMissingHeader(header string) *storeError {
	return newError(http.StatusBadRequest, "MissingRequiredHeader", "An HTTP header that's mandatory for this request is not specified: "+header)
}

func errCopySource(status int, detail string) *storeError {
	return newError(status, "CannotVerifyCopySource", detail)
}

// sendError writes e as an XML error document.
func sendError(w http.ResponseWriter, r *http.Request, op string, e *storeError) {
	if e.status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("store request failed",
			zap.String("op", op), zap.String("code", e.code), zap.String("path", r.URL.Path))
	}
	metrics.RecordStoreRequest(op, e.status)

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set(protocol.HeaderErrorCode, e.code)
	w.WriteHeader(e.status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(protocol.StoreError{Code: e.code, Message: e.message})
}

// sendStatus completes a successful request without a body.
func sendStatus(w http.ResponseWriter, op string, status int) {
	metrics.RecordStoreRequest(op, status)
	w.WriteHeader(status)
}
