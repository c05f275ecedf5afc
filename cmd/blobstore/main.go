// blobfm object store
//
// Serves one container over the block blob wire format, authorizing every
// request by its signed capability. Bytes live in the configured backend
// (memory, local filesystem or S3).
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/blobstore"
	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/events"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/internal/storage/backends"
)

const sweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "blobstore",
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("blobfm store starting...",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.String("account", cfg.Account.Name),
		zap.String("container", cfg.Account.Container))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := backends.New(ctx, cfg.Backend)
	if err != nil {
		logging.Fatal("storage backend init failed", zap.Error(err))
	}
	defer backend.Close()
	logging.Info("storage backend initialized", zap.String("type", backend.Type()))

	broadcaster := events.NewBroadcaster()

	store := blobstore.NewServer(blobstore.Options{
		Backend: backend,
		Account: capability.Account{
			Name:      cfg.Account.Name,
			Key:       cfg.Account.Key,
			Container: cfg.Account.Container,
			BaseURL:   cfg.Account.PublicURL,
		},
		MaxListResults: cfg.Limits.MaxListResults,
		Broadcaster:    broadcaster,
	})

	if cfg.Limits.StagedBlockTTL > 0 {
		go store.RunSweeper(ctx, sweepInterval, cfg.Limits.StagedBlockTTL)
	}

	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// No WriteTimeout: downloads and the event stream are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           store.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseTLS() {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	if cfg.UseTLS() {
		logging.Info("HTTPS server listening (TLS 1.3)", zap.String("addr", cfg.Server.ListenAddr))
		err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
	} else {
		logging.Info("HTTP server listening", zap.String("addr", cfg.Server.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
