package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/testutil"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

func setup(t *testing.T, opts testutil.Options) (*Gateway, *testutil.Stack) {
	t.Helper()
	stack := testutil.NewStack(t, opts)
	return New(Config{Endpoint: stack.MintURL}), stack
}

func seed(t *testing.T, stack *testutil.Stack, name, data string) {
	t.Helper()
	require.NoError(t, stack.Backend.PutObject(context.Background(), name, strings.NewReader(data), int64(len(data)), "text/plain"))
}

func read(t *testing.T, stack *testutil.Stack, name string) string {
	t.Helper()
	rc, _, err := stack.Backend.GetObject(context.Background(), name, 0, 0)
	require.NoError(t, err)
	defer rc.Close()
	var b bytes.Buffer
	_, err = b.ReadFrom(rc)
	require.NoError(t, err)
	return b.String()
}

func TestBlockID(t *testing.T) {
	assert.Equal(t, "000000000000", BlockID(0))
	assert.Equal(t, "000000000042", BlockID(42))

	prev := BlockID(0)
	for i := 1; i < 5000; i++ {
		id := BlockID(i)
		require.Len(t, id, len(prev))
		require.Less(t, prev, id, "index %d", i)
		_, err := base64.StdEncoding.DecodeString(id)
		require.NoError(t, err)
		prev = id
	}
}

func TestBlockListXML(t *testing.T) {
	want := `<?xml version="1.0" encoding="UTF-8"?>
<BlockList>
  <Latest>000000000000</Latest>
  <Latest>000000000001</Latest>
</BlockList>`
	assert.Equal(t, want, string(BlockListXML(2)))
}

func TestList(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	seed(t, stack, "docs/readme.txt", "abc")
	seed(t, stack, "docs/sub/"+models.DirectoryMarker, "")
	seed(t, stack, "other.txt", "x")

	entries, err := gw.List(context.Background(), "docs/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "docs/readme.txt", entries[0].Name)
	assert.Equal(t, int64(3), entries[0].Length)
	assert.NotEmpty(t, entries[0].ETag)
	assert.False(t, entries[0].LastModified.IsZero())
}

func TestListFollowsMarkers(t *testing.T) {
	gw, stack := setup(t, testutil.Options{MaxListResults: 3})
	for i := 0; i < 10; i++ {
		seed(t, stack, fmt.Sprintf("f%02d", i), "x")
	}

	entries, err := gw.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestCreateDirectory(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	require.NoError(t, gw.CreateDirectory(context.Background(), "docs", "sub"))

	ok, err := stack.Backend.StatObject(context.Background(), "docs/sub/"+models.DirectoryMarker)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ok.Size)

	err = gw.CreateDirectory(context.Background(), "docs", "sub")
	var me *MintError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, protocol.GenericError, me.Message)
}

func TestDelete(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	seed(t, stack, "a.txt", "x")
	require.NoError(t, gw.Delete(context.Background(), "a.txt"))

	err := gw.Delete(context.Background(), "a.txt")
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "BlobNotFound", se.Code)
}

func TestCopy(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	seed(t, stack, "a.txt", "payload")

	require.NoError(t, gw.Copy(context.Background(), "a.txt", "b/a.txt"))
	assert.Equal(t, "payload", read(t, stack, "b/a.txt"))
	assert.Equal(t, "payload", read(t, stack, "a.txt"))

	require.NoError(t, gw.Copy(context.Background(), "a.txt", "b/a.txt"), "copy onto an existing destination")
}

func TestChunkedUpload(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	ctx := context.Background()

	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	url, err := gw.UploadAccessURL(ctx, "up/file.bin")
	require.NoError(t, err)
	for i, c := range chunks {
		require.NoError(t, gw.PutBlock(ctx, url, i, c))
	}
	require.NoError(t, gw.PutBlockList(ctx, url, len(chunks)))

	got := read(t, stack, "up/file.bin")
	assert.Equal(t, "first-second-third", got)
	assert.Len(t, got, 6+7+5)
}

func TestDownload(t *testing.T) {
	gw, stack := setup(t, testutil.Options{})
	seed(t, stack, "a.txt", "download me")

	url, err := gw.DownloadURL(context.Background(), "a.txt")
	require.NoError(t, err)

	var b bytes.Buffer
	n, err := gw.Fetch(context.Background(), url, &b)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "download me", b.String())

	info, err := stack.Backend.StatObject(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", info.ContentType)
}

func TestPermissionDenied(t *testing.T) {
	perms := config.Permissions{Download: true}
	gw, stack := setup(t, testutil.Options{Permissions: &perms})
	seed(t, stack, "a.txt", "x")

	err := gw.Delete(context.Background(), "a.txt")
	var me *MintError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, protocol.CommandDeleteBlob, me.Command)
	assert.Equal(t, "x", read(t, stack, "a.txt"))
}

func TestOnRequestHidesSignature(t *testing.T) {
	stack := testutil.NewStack(t, testutil.Options{})
	seed(t, stack, "a.txt", "x")

	var mu sync.Mutex
	var seen []RequestInfo
	gw := New(Config{Endpoint: stack.MintURL, OnRequest: func(ri RequestInfo) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ri)
	}})

	_, err := gw.List(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, http.MethodGet, seen[0].Method)
	assert.Equal(t, stack.StoreURL+"/files", seen[0].URL)
	assert.Equal(t, http.StatusOK, seen[0].StatusCode)
	assert.Contains(t, seen[0].Query, "comp=list")
	assert.NotContains(t, seen[0].Query, protocol.SignatureParam+"=")
}

func TestMintEndpointUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := New(Config{Endpoint: ts.URL}).List(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	var netErr net.Error = timeoutErr{}
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StoreError{StatusCode: 500}, true},
		{&StoreError{StatusCode: 503}, true},
		{&StoreError{StatusCode: 429}, true},
		{&StoreError{StatusCode: 404}, false},
		{&StoreError{StatusCode: 403}, false},
		{&MintError{Message: "Unspecified error."}, false},
		{fmt.Errorf("list: %w", netErr), true},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}
