// Package api serves the capability mint endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fruitsalade/blobfm/internal/logging"
	"github.com/fruitsalade/blobfm/internal/metrics"
	"github.com/fruitsalade/blobfm/internal/minter"
	"github.com/fruitsalade/blobfm/internal/ratelimit"
	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// MintPath is the route of the mint endpoint.
const MintPath = "/api/file-manager-azure-access"

// Minter mints capabilities for one request.
type Minter interface {
	Mint(ctx context.Context, req protocol.MintRequest) (*minter.Grant, error)
}

// Options configure a Server.
type Options struct {
	// CORSOrigins restricts browser origins; empty allows any origin.
	CORSOrigins []string
	// Limiter applies per-client rate limits when non-nil.
	Limiter *ratelimit.Limiter
	// TrustedProxies are the proxies allowed to set X-Forwarded-For.
	// Nil keys rate limits on the connection address.
	TrustedProxies []string
}

// Server is the mint HTTP server.
type Server struct {
	minter Minter
	opts   Options
}

// NewServer creates a new mint server.
func NewServer(m Minter, opts Options) *Server {
	return &Server{minter: m, opts: opts}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	if err := r.SetTrustedProxies(s.opts.TrustedProxies); err != nil {
		logging.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.WithContext(c.Request.Context()).Error("handler panicked", zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusOK, protocol.Failure(protocol.GenericError))
	}))
	r.Use(cors.New(s.corsConfig()))

	r.GET("/health", s.handleHealth)

	mint := r.Group(MintPath)
	if s.opts.Limiter != nil {
		mint.Use(ratelimit.Middleware(s.opts.Limiter))
	}
	mint.GET("", s.handleMint)
	mint.POST("", s.handleMint)

	return metrics.Middleware(logging.Middleware(r))
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Requested-With", logging.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
	}
	return cfg
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMint answers every mint with 200 and either the success or the
// failure shape. Capability URLs are never logged.
func (s *Server) handleMint(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req protocol.MintRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusOK, protocol.Failure(protocol.GenericError))
		return
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil {
			logging.WithContext(c.Request.Context()).Debug("bind mint request", zap.Error(err))
			c.JSON(http.StatusOK, protocol.Failure(protocol.GenericError))
			return
		}
	}

	grant, err := s.minter.Mint(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusOK, protocol.Failure(minter.PublicMessage(err)))
		return
	}
	c.JSON(http.StatusOK, grant.Response())
}
