package blobstore

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// probeTTL is the lifetime of capabilities the client signs for itself.
const probeTTL = time.Minute

// ClientOptions configure a Client.
type ClientOptions struct {
	RetryMax int
	Timeout  time.Duration
}

// Client performs account-key operations against the store on behalf of
// the minter. It signs its own short-lived capabilities.
type Client struct {
	http   *retryablehttp.Client
	signer *capability.Signer
	now    func() time.Time
}

// NewClient creates a store client for account.
func NewClient(account capability.Account, opts ClientOptions) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logging.NewLeveledLogger("blobstore-client")
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	return &Client{
		http:   rc,
		signer: capability.NewSigner(account),
		now:    time.Now,
	}
}

func (c *Client) do(ctx context.Context, method, name string, op capability.Operation, extra string, header http.Header) (*http.Response, error) {
	grant, err := c.signer.Sign(capability.ScopeBlob, name, op, c.now().Add(probeTTL))
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, grant.URL+extra, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.http.Do(req)
}

// Stat reports whether name exists and returns its properties.
func (c *Client) Stat(ctx context.Context, name string) (models.ObjectEntry, bool, error) {
	resp, err := c.do(ctx, http.MethodHead, name, capability.Read, "", nil)
	if err != nil {
		return models.ObjectEntry{}, false, fmt.Errorf("stat %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.ObjectEntry{}, false, nil
	default:
		return models.ObjectEntry{}, false, responseError("stat", name, resp)
	}

	entry := models.ObjectEntry{Name: name, ETag: resp.Header.Get("ETag")}
	entry.Length = resp.ContentLength
	if entry.Length < 0 {
		entry.Length, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		entry.LastModified = t
	}
	return entry, true, nil
}

// SetContentType replaces the stored content type of name.
func (c *Client) SetContentType(ctx context.Context, name, contentType string) error {
	header := http.Header{}
	header.Set(protocol.HeaderBlobContentType, contentType)
	resp, err := c.do(ctx, http.MethodPut, name, capability.Write, "&comp=properties", header)
	if err != nil {
		return fmt.Errorf("set content type of %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError("set content type", name, resp)
	}
	return nil
}

func responseError(action, name string, resp *http.Response) error {
	code := resp.Header.Get(protocol.HeaderErrorCode)
	if code == "" {
		var body protocol.StoreError
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			_ = xml.Unmarshal(data, &body)
		}
		code = body.Code
	}
	return fmt.Errorf("%s %s: store returned %s (%s)", action, name, resp.Status, code)
}
