// Package testutil runs the object store, the minter and the mint endpoint
// on httptest servers for end-to-end tests.
package testutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fruitsalade/blobfm/internal/api"
	"github.com/fruitsalade/blobfm/internal/blobstore"
	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/events"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/minter"
	"github.com/fruitsalade/blobfm/internal/storage/memory"
)

// Options configure a Stack. The zero value enables every permission.
type Options struct {
	Permissions    *config.Permissions
	MaxBlobSize    int64
	MaxListResults int
}

// Stack is a running store, minter and mint endpoint.
type Stack struct {
	MintURL  string
	StoreURL string
	Backend  *memory.MemoryBackend
	Store    *blobstore.Server
	Account  capability.Account
}

// AllPermissions enables every command.
func AllPermissions() config.Permissions {
	return config.Permissions{Create: true, Remove: true, RenameOrMoveOrCopy: true, Upload: true, Download: true}
}

// NewStack starts a stack backed by memory storage. Servers are closed when
// the test ends.
func NewStack(t testing.TB, opts Options) *Stack {
	t.Helper()
	logging.InitNop()
	gin.SetMode(gin.TestMode)

	perms := AllPermissions()
	if opts.Permissions != nil {
		perms = *opts.Permissions
	}
	if opts.MaxBlobSize == 0 {
		opts.MaxBlobSize = 1 << 20
	}

	account := capability.Account{Name: "devaccount", Key: "test-account-key", Container: "files"}
	backend := memory.New()
	store := blobstore.NewServer(blobstore.Options{
		Backend:        backend,
		Account:        account,
		MaxListResults: opts.MaxListResults,
		Broadcaster:    events.NewBroadcaster(),
	})
	storeTS := httptest.NewServer(store.Handler())
	t.Cleanup(storeTS.Close)
	account.BaseURL = storeTS.URL

	m := minter.New(minter.Options{
		Permissions: perms,
		MaxBlobSize: opts.MaxBlobSize,
		TTL:         time.Hour,
	}, blobstore.NewClient(account, blobstore.ClientOptions{Timeout: 10 * time.Second}), capability.NewSigner(account))

	mintTS := httptest.NewServer(api.NewServer(m, api.Options{}).Handler())
	t.Cleanup(mintTS.Close)

	return &Stack{
		MintURL:  mintTS.URL + api.MintPath,
		StoreURL: storeTS.URL,
		Backend:  backend,
		Store:    store,
		Account:  account,
	}
}
