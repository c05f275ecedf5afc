package protocol

import "encoding/xml"

// Store request headers and query values.
const (
	HeaderBlobType        = "x-ms-blob-type"
	HeaderBlobContentType = "x-ms-blob-content-type"
	HeaderCopySource      = "x-ms-copy-source"
	HeaderCopyStatus      = "x-ms-copy-status"
	HeaderErrorCode       = "x-ms-error-code"

	BlobTypeBlockBlob = "BlockBlob"

	// SignatureParam carries the capability token in signed URLs.
	SignatureParam = "sig"
)

// EnumerationResults is the container listing document.
type EnumerationResults struct {
	XMLName       xml.Name `xml:"EnumerationResults"`
	ContainerName string   `xml:"ContainerName,attr"`
	Prefix        string   `xml:"Prefix"`
	Marker        string   `xml:"Marker,omitempty"`
	MaxResults    int      `xml:"MaxResults,omitempty"`
	Blobs         []Blob   `xml:"Blobs>Blob"`
	NextMarker    string   `xml:"NextMarker"`
}

// Blob is one listed object.
type Blob struct {
	Name       string         `xml:"Name"`
	Properties BlobProperties `xml:"Properties"`
}

// BlobProperties are the listed object properties.
type BlobProperties struct {
	LastModified  string `xml:"Last-Modified"`
	Etag          string `xml:"Etag"`
	ContentLength int64  `xml:"Content-Length"`
	ContentType   string `xml:"Content-Type,omitempty"`
}

// BlockList is the commit body. Entries keep their document order.
type BlockList struct {
	XMLName xml.Name   `xml:"BlockList"`
	Blocks  []BlockRef `xml:",any"`
}

// BlockRef is a Latest, Uncommitted or Committed entry of a block list.
type BlockRef struct {
	XMLName xml.Name
	ID      string `xml:",chardata"`
}

// StoreError is the XML error body returned by the store.
type StoreError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}
