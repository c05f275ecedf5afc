package minter

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

type fakeStore struct {
	mu           sync.Mutex
	objects      map[string]int64
	contentTypes map[string]string
	stats        int
	mutations    int
	statErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]int64{}, contentTypes: map[string]string{}}
}

func (f *fakeStore) Stat(_ context.Context, name string) (models.ObjectEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats++
	if f.statErr != nil {
		return models.ObjectEntry{}, false, f.statErr
	}
	size, ok := f.objects[name]
	return models.ObjectEntry{Name: name, Length: size}, ok, nil
}

func (f *fakeStore) SetContentType(_ context.Context, name, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		return errors.New("blob not found")
	}
	f.mutations++
	f.contentTypes[name] = contentType
	return nil
}

type panicSigner struct{}

func (panicSigner) Sign(capability.Scope, string, capability.Operation, time.Time) (*capability.Capability, error) {
	panic("boom")
}

var testAccount = capability.Account{Name: "devaccount", Key: "k", Container: "files", BaseURL: "http://store"}

func allowAll() config.Permissions {
	return config.Permissions{Create: true, Remove: true, RenameOrMoveOrCopy: true, Upload: true, Download: true}
}

func newMinter(perms config.Permissions, store Store) *Minter {
	logging.InitNop()
	return New(Options{Permissions: perms, MaxBlobSize: 1 << 20, TTL: time.Hour}, store, capability.NewSigner(testAccount))
}

func claimsOf(t *testing.T, c *capability.Capability) *capability.Claims {
	t.Helper()
	u, err := url.Parse(c.URL)
	require.NoError(t, err)
	claims, err := capability.NewVerifier(testAccount).Verify(u.Query().Get(protocol.SignatureParam))
	require.NoError(t, err)
	return claims
}

func TestMintCommands(t *testing.T) {
	tests := []struct {
		req   protocol.MintRequest
		scope capability.Scope
		res   string
		op    capability.Operation
	}{
		{protocol.MintRequest{Command: protocol.CommandBlobList}, capability.ScopeContainer, "", capability.List},
		{protocol.MintRequest{Command: protocol.CommandCreateDirectory, BlobName: "docs"}, capability.ScopeBlob, "docs/" + models.DirectoryMarker, capability.Write},
		{protocol.MintRequest{Command: protocol.CommandDeleteBlob, BlobName: "a.txt"}, capability.ScopeBlob, "a.txt", capability.Delete},
		{protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "new.txt"}, capability.ScopeBlob, "new.txt", capability.Write},
		{protocol.MintRequest{Command: protocol.CommandGetBlob, BlobName: "a.txt"}, capability.ScopeBlob, "a.txt", capability.Read},
	}
	for _, tt := range tests {
		t.Run(tt.req.Command, func(t *testing.T) {
			store := newFakeStore()
			store.objects["a.txt"] = 10
			m := newMinter(allowAll(), store)

			grant, err := m.Mint(context.Background(), tt.req)
			require.NoError(t, err)
			require.NotNil(t, grant.Primary)
			assert.Nil(t, grant.Secondary)

			claims := claimsOf(t, grant.Primary)
			assert.Equal(t, tt.scope, claims.Scope)
			assert.Equal(t, tt.res, claims.Resource)
			assert.Equal(t, tt.op, claims.Operation)
		})
	}
}

func TestCopyMintsReadAndCreate(t *testing.T) {
	m := newMinter(allowAll(), newFakeStore())
	grant, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandCopyBlob, BlobName: "a", BlobName2: "b"})
	require.NoError(t, err)
	require.NotNil(t, grant.Secondary)

	src, dst := claimsOf(t, grant.Primary), claimsOf(t, grant.Secondary)
	assert.Equal(t, "a", src.Resource)
	assert.Equal(t, capability.Read, src.Operation)
	assert.Equal(t, "b", dst.Resource)
	assert.Equal(t, capability.Create, dst.Operation)

	resp := grant.Response()
	require.NotNil(t, resp.AccessURL2)
	assert.Equal(t, grant.Secondary.URL, *resp.AccessURL2)
}

func TestCopyFailsWhenEitherNameMissing(t *testing.T) {
	m := newMinter(allowAll(), newFakeStore())
	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandCopyBlob, BlobName: "a"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDisabledCommandsDoNotTouchStore(t *testing.T) {
	commands := []protocol.MintRequest{
		{Command: protocol.CommandCreateDirectory, BlobName: "d"},
		{Command: protocol.CommandDeleteBlob, BlobName: "a.txt"},
		{Command: protocol.CommandCopyBlob, BlobName: "a.txt", BlobName2: "b.txt"},
		{Command: protocol.CommandUploadBlob, BlobName: "a.txt"},
		{Command: protocol.CommandGetBlob, BlobName: "a.txt"},
	}
	for _, req := range commands {
		t.Run(req.Command, func(t *testing.T) {
			store := newFakeStore()
			store.objects["a.txt"] = 1
			m := newMinter(config.Permissions{}, store)

			grant, err := m.Mint(context.Background(), req)
			assert.Nil(t, grant)
			assert.ErrorIs(t, err, ErrPermissionDenied)
			assert.Equal(t, protocol.GenericError, PublicMessage(err))
			assert.Zero(t, store.stats)
			assert.Zero(t, store.mutations)
		})
	}
}

func TestListAlwaysAllowed(t *testing.T) {
	m := newMinter(config.Permissions{}, newFakeStore())
	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandBlobList})
	assert.NoError(t, err)
}

func TestCreateDirectoryConflict(t *testing.T) {
	store := newFakeStore()
	store.objects[models.MarkerName("docs")] = 0
	m := newMinter(allowAll(), store)

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandCreateDirectory, BlobName: "docs"})
	assert.ErrorIs(t, err, ErrResourceConflict)
	assert.Equal(t, protocol.GenericError, PublicMessage(err))
}

func TestUploadRejectsDirectoryName(t *testing.T) {
	store := newFakeStore()
	m := newMinter(allowAll(), store)

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "docs/"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Invalid blob name.", PublicMessage(err))
	assert.Zero(t, store.stats)
}

func TestUploadSizeCeiling(t *testing.T) {
	store := newFakeStore()
	store.objects["small.bin"] = 1 << 20
	store.objects["big.bin"] = 1<<20 + 1
	m := newMinter(allowAll(), store)

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "small.bin"})
	assert.NoError(t, err)

	_, err = m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "big.bin"})
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.Equal(t, protocol.GenericError, PublicMessage(err))
}

func TestUploadSizeCeilingDefault(t *testing.T) {
	logging.InitNop()
	store := newFakeStore()
	store.objects["small.bin"] = 512
	store.objects["big.bin"] = DefaultMaxBlobSize + 1
	m := New(Options{Permissions: allowAll()}, store, capability.NewSigner(testAccount))

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "small.bin"})
	assert.NoError(t, err)

	_, err = m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandUploadBlob, BlobName: "big.bin"})
	assert.ErrorIs(t, err, ErrObjectTooLarge)
}

func TestGetBlobSetsContentType(t *testing.T) {
	store := newFakeStore()
	store.objects["a.txt"] = 3
	m := newMinter(allowAll(), store)

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandGetBlob, BlobName: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", store.contentTypes["a.txt"])

	_, err = m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandGetBlob, BlobName: "missing.txt"})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestStoreProbeFailure(t *testing.T) {
	store := newFakeStore()
	store.statErr = errors.New("connection refused")
	m := newMinter(allowAll(), store)

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandCreateDirectory, BlobName: "d"})
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, protocol.GenericError, PublicMessage(err))
}

func TestMintFailureWithoutKey(t *testing.T) {
	logging.InitNop()
	m := New(Options{Permissions: allowAll()}, newFakeStore(), capability.NewSigner(capability.Account{Name: "a", Container: "c"}))

	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandBlobList})
	assert.ErrorIs(t, err, ErrCapabilityMint)
	assert.Equal(t, "capability cannot be generated", PublicMessage(err))
}

func TestUnknownCommand(t *testing.T) {
	m := newMinter(allowAll(), newFakeStore())
	_, err := m.Mint(context.Background(), protocol.MintRequest{Command: "Format"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestPanicRecovered(t *testing.T) {
	logging.InitNop()
	m := New(Options{Permissions: allowAll()}, newFakeStore(), panicSigner{})

	grant, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandBlobList})
	assert.Nil(t, grant)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, protocol.GenericError, PublicMessage(err))
}

func TestCapabilityExpiry(t *testing.T) {
	logging.InitNop()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New(Options{Permissions: allowAll(), TTL: 30 * time.Minute, Now: func() time.Time { return now }}, newFakeStore(), capability.NewSigner(testAccount))

	grant, err := m.Mint(context.Background(), protocol.MintRequest{Command: protocol.CommandDeleteBlob, BlobName: "x"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), grant.Primary.Expiry)
	assert.True(t, strings.HasPrefix(grant.Primary.URL, "http://store/files/x?sig="))
}
