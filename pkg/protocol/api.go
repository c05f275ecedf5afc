// Package protocol defines the wire types of the mint endpoint and the object store.
package protocol

// Command names accepted by the mint endpoint.
const (
	CommandBlobList        = "BlobList"
	CommandCreateDirectory = "CreateDirectory"
	CommandDeleteBlob      = "DeleteBlob"
	CommandCopyBlob        = "CopyBlob"
	CommandUploadBlob      = "UploadBlob"
	CommandGetBlob         = "GetBlob"
)

// GenericError is the only failure text returned for denials and internal faults.
const GenericError = "Unspecified error."

// MintRequest is the input of GET|POST /api/file-manager-azure-access.
type MintRequest struct {
	Command   string `form:"command" json:"command"`
	BlobName  string `form:"blobName" json:"blobName"`
	BlobName2 string `form:"blobName2" json:"blobName2"`
}

// MintResponse is the union of the success and failure response shapes.
// Success responses always carry accessUrl2 (null when absent); failures carry error.
type MintResponse struct {
	Success    bool    `json:"success"`
	AccessURL  string  `json:"accessUrl,omitempty"`
	AccessURL2 *string `json:"accessUrl2,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// MintSuccess is the success shape as written by the server.
type MintSuccess struct {
	Success    bool    `json:"success"`
	AccessURL  string  `json:"accessUrl"`
	AccessURL2 *string `json:"accessUrl2"`
}

// MintFailure is the failure shape as written by the server.
type MintFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Success builds a success response; url2 may be empty.
func Success(url, url2 string) MintSuccess {
	resp := MintSuccess{Success: true, AccessURL: url}
	if url2 != "" {
		resp.AccessURL2 = &url2
	}
	return resp
}

// Failure builds a failure response.
func Failure(msg string) MintFailure {
	return MintFailure{Success: false, Error: msg}
}
