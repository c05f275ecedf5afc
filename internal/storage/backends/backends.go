// Package backends opens the configured storage.Backend.
package backends

import (
	"context"
	"fmt"

	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/storage"
	"github.com/fruitsalade/blobfm/internal/storage/local"
	"github.com/fruitsalade/blobfm/internal/storage/memory"
	s3backend "github.com/fruitsalade/blobfm/internal/storage/s3"
)

// New creates a Backend from the backend section of the config.
func New(ctx context.Context, cfg config.BackendConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "local":
		return local.New(local.Config{
			RootPath:   cfg.LocalPath,
			CreateDirs: true,
		})
	case "s3":
		return s3backend.NewBackend(ctx, s3backend.BackendConfig{
			Endpoint:     cfg.S3Endpoint,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
