// Package gateway performs file manager operations directly against the
// object store using capabilities obtained from the mint endpoint. Every
// operation mints the narrowest capability it needs, then executes the store
// request itself. Nothing is retried automatically.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// RequestInfo describes an executed store request. URL never contains the
// capability signature.
type RequestInfo struct {
	Method     string
	URL        string
	Query      string
	StatusCode int
}

// Config holds gateway configuration.
type Config struct {
	// Endpoint is the mint endpoint URL.
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	// OnRequest, when set, is called after every executed store request.
	OnRequest func(RequestInfo)
}

// AccessURLs are the capability URLs returned by one mint.
type AccessURLs struct {
	URL1 string
	URL2 string
}

// Gateway executes file manager operations. It is safe for concurrent use.
type Gateway struct {
	endpoint  string
	rc        *resty.Client
	onRequest func(RequestInfo)
}

// New creates a new gateway.
func New(cfg Config) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	rc := resty.NewWithClient(hc).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetLogger(logging.S().Named("gateway"))

	return &Gateway{endpoint: cfg.Endpoint, rc: rc, onRequest: cfg.OnRequest}
}

// Access mints capabilities for command. A refusal is returned as *MintError.
func (g *Gateway) Access(ctx context.Context, command, name, name2 string) (AccessURLs, error) {
	params := map[string]string{"command": command}
	if name != "" {
		params["blobName"] = name
	}
	if name2 != "" {
		params["blobName2"] = name2
	}

	resp, err := g.rc.R().SetContext(ctx).SetQueryParams(params).Get(g.endpoint)
	if err != nil {
		return AccessURLs{}, fmt.Errorf("mint %s: %w", command, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return AccessURLs{}, &StoreError{Op: "mint " + command, StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	var body protocol.MintResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return AccessURLs{}, fmt.Errorf("mint %s: decode response: %w", command, err)
	}
	if !body.Success {
		return AccessURLs{}, &MintError{Command: command, Message: body.Error}
	}
	urls := AccessURLs{URL1: body.AccessURL}
	if body.AccessURL2 != nil {
		urls.URL2 = *body.AccessURL2
	}
	return urls, nil
}

// execute runs a prepared store request and reports it to the hook.
func (g *Gateway) execute(req *resty.Request, method, rawURL, op string) (*resty.Response, error) {
	resp, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	g.report(method, resp)
	if !isSuccess(resp.StatusCode()) {
		return resp, storeError(op, resp.StatusCode(), resp.Status(), resp.Header(), resp.Body())
	}
	return resp, nil
}

func (g *Gateway) report(method string, resp *resty.Response) {
	if g.onRequest == nil || resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return
	}
	u := *resp.RawResponse.Request.URL
	q := u.Query()
	q.Del(protocol.SignatureParam)
	u.RawQuery = ""
	g.onRequest(RequestInfo{Method: method, URL: u.String(), Query: q.Encode(), StatusCode: resp.StatusCode()})
}

func isSuccess(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusPartialContent:
		return true
	}
	return false
}

func storeError(op string, code int, status string, header http.Header, body []byte) error {
	se := &StoreError{Op: op, StatusCode: code, Status: status, Code: header.Get(protocol.HeaderErrorCode)}
	if se.Code == "" && len(body) > 0 {
		var doc protocol.StoreError
		if xml.Unmarshal(body, &doc) == nil {
			se.Code = doc.Code
		}
	}
	return se
}

// List returns every object whose name starts with prefix, following
// continuation markers until the listing is exhausted.
func (g *Gateway) List(ctx context.Context, prefix string) ([]models.ObjectEntry, error) {
	urls, err := g.Access(ctx, protocol.CommandBlobList, "", "")
	if err != nil {
		return nil, err
	}

	var entries []models.ObjectEntry
	marker := ""
	for {
		params := map[string]string{"restype": "container", "comp": "list"}
		if prefix != "" {
			params["prefix"] = prefix
		}
		if marker != "" {
			params["marker"] = marker
		}
		resp, err := g.execute(g.rc.R().SetContext(ctx).SetQueryParams(params), http.MethodGet, urls.URL1, "list")
		if err != nil {
			return nil, err
		}

		var page protocol.EnumerationResults
		if err := xml.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("list: decode listing: %w", err)
		}
		for _, b := range page.Blobs {
			entries = append(entries, parseEntry(b))
		}
		if page.NextMarker == "" {
			return entries, nil
		}
		marker = page.NextMarker
	}
}

func parseEntry(b protocol.Blob) models.ObjectEntry {
	e := models.ObjectEntry{
		Name:   b.Name,
		ETag:   b.Properties.Etag,
		Length: b.Properties.ContentLength,
	}
	if t, err := http.ParseTime(b.Properties.LastModified); err == nil {
		e.LastModified = t
	}
	return e
}

// CreateDirectory creates the marker object of directory name under path.
func (g *Gateway) CreateDirectory(ctx context.Context, path, name string) error {
	dir := models.JoinPath(path, name)
	urls, err := g.Access(ctx, protocol.CommandCreateDirectory, dir, "")
	if err != nil {
		return err
	}
	req := g.rc.R().SetContext(ctx).
		SetHeader(protocol.HeaderBlobType, protocol.BlobTypeBlockBlob).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody([]byte{})
	_, err = g.execute(req, http.MethodPut, urls.URL1, "create directory "+dir)
	return err
}

// Delete removes one object.
func (g *Gateway) Delete(ctx context.Context, name string) error {
	urls, err := g.Access(ctx, protocol.CommandDeleteBlob, name, "")
	if err != nil {
		return err
	}
	_, err = g.execute(g.rc.R().SetContext(ctx), http.MethodDelete, urls.URL1, "delete "+name)
	return err
}

// Copy performs a server-side copy of src onto dst. Object bytes do not pass
// through the client.
func (g *Gateway) Copy(ctx context.Context, src, dst string) error {
	urls, err := g.Access(ctx, protocol.CommandCopyBlob, src, dst)
	if err != nil {
		return err
	}
	if urls.URL2 == "" {
		return &MintError{Command: protocol.CommandCopyBlob, Message: "missing destination capability"}
	}
	req := g.rc.R().SetContext(ctx).SetHeader(protocol.HeaderCopySource, urls.URL1)
	_, err = g.execute(req, http.MethodPut, urls.URL2, "copy "+src)
	return err
}

// UploadAccessURL mints the write capability shared by every block of one
// upload.
func (g *Gateway) UploadAccessURL(ctx context.Context, name string) (string, error) {
	urls, err := g.Access(ctx, protocol.CommandUploadBlob, name, "")
	if err != nil {
		return "", err
	}
	return urls.URL1, nil
}

// PutBlock stages chunk index of an upload.
func (g *Gateway) PutBlock(ctx context.Context, uploadURL string, index int, data []byte) error {
	req := g.rc.R().SetContext(ctx).
		SetQueryParams(map[string]string{"comp": "block", "blockid": BlockID(index)}).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data)
	_, err := g.execute(req, http.MethodPut, uploadURL, "put block "+strconv.Itoa(index))
	return err
}

// PutBlockList commits blocks 0..count-1 in ascending order.
func (g *Gateway) PutBlockList(ctx context.Context, uploadURL string, count int) error {
	req := g.rc.R().SetContext(ctx).
		SetQueryParam("comp", "blocklist").
		SetHeader("Content-Type", "application/xml").
		SetBody(BlockListXML(count))
	_, err := g.execute(req, http.MethodPut, uploadURL, "put block list")
	return err
}

// DownloadURL mints a read capability for name. The returned URL is fetched
// directly from the store.
func (g *Gateway) DownloadURL(ctx context.Context, name string) (string, error) {
	urls, err := g.Access(ctx, protocol.CommandGetBlob, name, "")
	if err != nil {
		return "", err
	}
	return urls.URL1, nil
}

// Fetch streams the object behind a read capability URL to w.
func (g *Gateway) Fetch(ctx context.Context, accessURL string, w io.Writer) (int64, error) {
	resp, err := g.rc.R().SetContext(ctx).SetDoNotParseResponse(true).Get(accessURL)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	g.report(http.MethodGet, resp)

	if !isSuccess(resp.StatusCode()) {
		data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return 0, storeError("fetch", resp.StatusCode(), resp.Status(), resp.Header(), data)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("fetch: %w", err)
	}
	return n, nil
}

// BlockID returns the identifier of chunk index: the index as twelve
// zero-padded digits. Twelve digits are already valid base64 text, so the
// ID is sent as is; IDs share one length and compare in index order, which
// a base64 encoding of the digits would not preserve.
func BlockID(index int) string {
	return fmt.Sprintf("%012d", index)
}

// BlockListXML returns the commit document naming blocks 0..count-1.
func BlockListXML(count int) []byte {
	var b bytes.Buffer
	b.WriteString(strings.TrimSuffix(xml.Header, "\n"))
	b.WriteString("\n<BlockList>\n")
	for i := 0; i < count; i++ {
		b.WriteString("  <Latest>")
		b.WriteString(BlockID(i))
		b.WriteString("</Latest>\n")
	}
	b.WriteString("</BlockList>")
	return b.Bytes()
}
