// blobfm capability minter
//
// Serves /api/file-manager-azure-access: checks each file manager command against
// the static permission table and answers with short-lived signed store URLs.
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

	"github.com/fruitsalade/blobfm/internal/api"
	"github.com/fruitsalade/blobfm/internal/blobstore"
	"github.com/fruitsalade/blobfm/internal/capability"
	"github.com/fruitsalade/blobfm/internal/config"
	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/internal/minter"
	"github.com/fruitsalade/blobfm/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "minter",
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("blobfm minter starting...",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.String("store", cfg.Account.PublicURL),
		zap.Bool("create", cfg.Permissions.Create),
		zap.Bool("remove", cfg.Permissions.Remove),
		zap.Bool("rename_or_move_or_copy", cfg.Permissions.RenameOrMoveOrCopy),
		zap.Bool("upload", cfg.Permissions.Upload),
		zap.Bool("download", cfg.Permissions.Download))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	account := capability.Account{
		Name:      cfg.Account.Name,
		Key:       cfg.Account.Key,
		Container: cfg.Account.Container,
		BaseURL:   cfg.Account.PublicURL,
	}

	store := blobstore.NewClient(account, blobstore.ClientOptions{
		RetryMax: 2,
		Timeout:  10 * time.Second,
	})

	m := minter.New(minter.Options{
		Permissions: cfg.Permissions,
		MaxBlobSize: cfg.Limits.MaxBlobSize,
		TTL:         cfg.Limits.CapabilityTTL,
	}, store, capability.NewSigner(account))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		logging.Info("rate limiter initialized",
			zap.Float64("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))

		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					limiter.Cleanup(10 * time.Minute)
				}
			}
		}()
	}

	srv := api.NewServer(m, api.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		Limiter:        limiter,
		TrustedProxies: cfg.Server.TrustedProxies,
	})

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

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
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

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("http server shutdown", zap.Error(err))
		}
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
