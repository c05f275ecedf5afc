// Package minter issues short-lived, single-operation capabilities for the
// file manager commands after checking them against the permission table.
// It never touches object bytes; the only store calls it makes are existence
// probes and the download content-type hint.
package minter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// DefaultMaxBlobSize is the overwrite ceiling when Options leave it unset.
const DefaultMaxBlobSize = 1 << 20

// downloadContentType makes browsers save downloads instead of rendering them.
const downloadContentType = "application/octet-stream"

// Store is the account-key access the minter needs.
type Store interface {
	Stat(ctx context.Context, name string) (models.ObjectEntry, bool, error)
	SetContentType(ctx context.Context, name, contentType string) error
}

// Signer produces signed capabilities.
type Signer interface {
	Sign(scope capability.Scope, resource string, op capability.Operation, expiry time.Time) (*capability.Capability, error)
}

// Options configure a Minter.
type Options struct {
	Permissions config.Permissions
	MaxBlobSize int64
	TTL         time.Duration
	Now         func() time.Time
}

// Grant is the result of a successful mint.
type Grant struct {
	Primary   *capability.Capability
	Secondary *capability.Capability
}

// Response converts g to the wire success shape.
func (g *Grant) Response() protocol.MintSuccess {
	url2 := ""
	if g.Secondary != nil {
		url2 = g.Secondary.URL
	}
	return protocol.Success(g.Primary.URL, url2)
}

// Minter checks permissions and mints capabilities. It holds no per-request
// state and is safe for concurrent use.
type Minter struct {
	perms       config.Permissions
	maxBlobSize int64
	ttl         time.Duration
	now         func() time.Time
	store       Store
	signer      Signer
}

// New creates a Minter. Permissions are copied and never change afterwards.
func New(opts Options, store Store, signer Signer) *Minter {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxBlobSize <= 0 {
		opts.MaxBlobSize = DefaultMaxBlobSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Minter{
		perms:       opts.Permissions,
		maxBlobSize: opts.MaxBlobSize,
		ttl:         opts.TTL,
		now:         opts.Now,
		store:       store,
		signer:      signer,
	}
}

// Mint runs one command. Any panic is converted to ErrInternal.
func (m *Minter) Mint(ctx context.Context, req protocol.MintRequest) (grant *Grant, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Error("mint panicked", zap.String("command", req.Command), zap.Any("panic", r))
			grant, err = nil, fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
		m.record(ctx, req, err)
	}()

	switch req.Command {
	case protocol.CommandBlobList:
		return m.list()
	case protocol.CommandCreateDirectory:
		if err := m.check(m.perms.Create); err != nil {
			return nil, err
		}
		return m.createDirectory(ctx, req.BlobName)
	case protocol.CommandDeleteBlob:
		if err := m.check(m.perms.Remove); err != nil {
			return nil, err
		}
		return m.single(req.BlobName, capability.Delete)
	case protocol.CommandCopyBlob:
		if err := m.check(m.perms.RenameOrMoveOrCopy); err != nil {
			return nil, err
		}
		return m.copyBlob(req.BlobName, req.BlobName2)
	case protocol.CommandUploadBlob:
		if err := m.check(m.perms.Upload); err != nil {
			return nil, err
		}
		return m.uploadBlob(ctx, req.BlobName)
	case protocol.CommandGetBlob:
		if err := m.check(m.perms.Download); err != nil {
			return nil, err
		}
		return m.getBlob(ctx, req.BlobName)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)
	}
}

func (m *Minter) check(allowed bool) error {
	metrics.RecordPermissionCheck(allowed)
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}

func (m *Minter) record(ctx context.Context, req protocol.MintRequest, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrPermissionDenied):
		outcome = "denied"
	case errors.Is(err, ErrResourceConflict):
		outcome = "conflict"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrObjectTooLarge), errors.Is(err, ErrUnknownCommand):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	metrics.RecordMint(req.Command, outcome)

	logger := logging.WithContext(ctx)
	fields := []zap.Field{
		zap.String("command", req.Command),
		zap.String("blob_name", req.BlobName),
		zap.String("outcome", outcome),
	}
	if req.BlobName2 != "" {
		fields = append(fields, zap.String("blob_name2", req.BlobName2))
	}
	if outcome == "error" {
		logger.Warn("mint failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("mint", fields...)
}

func (m *Minter) sign(scope capability.Scope, name string, op capability.Operation) (*capability.Capability, error) {
	c, err := m.signer.Sign(scope, name, op, m.now().Add(m.ttl))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapabilityMint, err)
	}
	return c, nil
}

func (m *Minter) list() (*Grant, error) {
	c, err := m.sign(capability.ScopeContainer, "", capability.List)
	if err != nil {
		return nil, err
	}
	return &Grant{Primary: c}, nil
}

func (m *Minter) single(name string, op capability.Operation) (*Grant, error) {
	if name == "" {
		return nil, invalidInput("Blob name is required.")
	}
	c, err := m.sign(capability.ScopeBlob, name, op)
	if err != nil {
		return nil, err
	}
	return &Grant{Primary: c}, nil
}

// createDirectory mints a Write capability for the directory marker. The
// existence check and the later write are not atomic: two concurrent calls
// for the same directory can both succeed.
func (m *Minter) createDirectory(ctx context.Context, dir string) (*Grant, error) {
	if dir == "" {
		return nil, invalidInput("Directory name is required.")
	}
	marker := models.MarkerName(dir)
	_, exists, err := m.store.Stat(ctx, marker)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", ErrInternal, marker, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrResourceConflict, dir)
	}
	return m.single(marker, capability.Write)
}

func (m *Minter) copyBlob(src, dst string) (*Grant, error) {
	if src == "" || dst == "" {
		return nil, invalidInput("Source and destination blob names are required.")
	}
	read, err := m.sign(capability.ScopeBlob, src, capability.Read)
	if err != nil {
		return nil, err
	}
	create, err := m.sign(capability.ScopeBlob, dst, capability.Create)
	if err != nil {
		return nil, err
	}
	return &Grant{Primary: read, Secondary: create}, nil
}

// uploadBlob refuses directory-like names and refuses to hand out an
// overwrite capability for existing objects above the size ceiling.
func (m *Minter) uploadBlob(ctx context.Context, name string) (*Grant, error) {
	if name == "" || strings.HasSuffix(name, models.PathSeparator) {
		return nil, invalidInput("Invalid blob name.")
	}
	entry, exists, err := m.store.Stat(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", ErrInternal, name, err)
	}
	if exists && entry.Length > m.maxBlobSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, name, entry.Length)
	}
	return m.single(name, capability.Write)
}

func (m *Minter) getBlob(ctx context.Context, name string) (*Grant, error) {
	if name == "" {
		return nil, invalidInput("Blob name is required.")
	}
	if err := m.store.SetContentType(ctx, name, downloadContentType); err != nil {
		return nil, fmt.Errorf("%w: set content type of %s: %v", ErrInternal, name, err)
	}
	return m.single(name, capability.Read)
}
