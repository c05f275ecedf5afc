package main

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/pkg/gateway"
	"github.com/fruitsalade/blobfm/pkg/models"
	"github.com/fruitsalade/blobfm/pkg/retry"
)

// retryingGateway re-drives single-object gateway calls on transient
// failures. Only calls that are safe to repeat are wrapped: a repeated copy,
// delete or staged block leaves the same state, and a repeated mint returns a
// fresh capability.
type retryingGateway struct {
	gw  *gateway.Gateway
	cfg retry.Config
}

func newRetryingGateway(gw *gateway.Gateway, retries int) *retryingGateway {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = retries + 1
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	cfg.ShouldRetry = gateway.IsTransient
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("retrying request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return &retryingGateway{gw: gw, cfg: cfg}
}

func (r *retryingGateway) List(ctx context.Context, prefix string) ([]models.ObjectEntry, error) {
	return retry.DoWithResult(ctx, r.cfg, func() ([]models.ObjectEntry, error) {
		return r.gw.List(ctx, prefix)
	})
}

// CreateDirectory is not retried: a retry after a lost response would
// report a conflict for the directory the first attempt created.
func (r *retryingGateway) CreateDirectory(ctx context.Context, path, name string) error {
	return r.gw.CreateDirectory(ctx, path, name)
}

func (r *retryingGateway) Delete(ctx context.Context, name string) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.gw.Delete(ctx, name)
	})
}

func (r *retryingGateway) Copy(ctx context.Context, src, dst string) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.gw.Copy(ctx, src, dst)
	})
}

func (r *retryingGateway) UploadAccessURL(ctx context.Context, name string) (string, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (string, error) {
		return r.gw.UploadAccessURL(ctx, name)
	})
}

func (r *retryingGateway) PutBlock(ctx context.Context, uploadURL string, index int, data []byte) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.gw.PutBlock(ctx, uploadURL, index, data)
	})
}

// PutBlockList is not retried: a commit consumes the staged blocks, so a
// retry after a lost response fails for an upload that already landed.
func (r *retryingGateway) PutBlockList(ctx context.Context, uploadURL string, count int) error {
	return r.gw.PutBlockList(ctx, uploadURL, count)
}

func (r *retryingGateway) DownloadURL(ctx context.Context, name string) (string, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (string, error) {
		return r.gw.DownloadURL(ctx, name)
	})
}

// Fetch is not retried once bytes may have reached w.
func (r *retryingGateway) Fetch(ctx context.Context, accessURL string, w io.Writer) (int64, error) {
	return r.gw.Fetch(ctx, accessURL, w)
}
