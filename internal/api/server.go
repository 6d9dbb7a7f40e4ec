// Package api exposes the escrow registry over HTTP with gin, plus a
// websocket stream of swap events.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swap-escrow/internal/escrow"
	"swap-escrow/internal/ledger"
	"swap-escrow/internal/observability"
)

// CallerHeader carries the already-authenticated caller identity,
// set by the gateway in front of escrowd.
const CallerHeader = "X-Caller-Identity"

// Options configures a Server.
type Options struct {
	CORSOrigins     []string
	EnableFaucet    bool
	ShutdownTimeout time.Duration
}

// Server serves the escrow HTTP API.
type Server struct {
	registry *escrow.Registry
	accounts ledger.Accounts
	hub      *Hub
	opts     Options
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer builds the router. hub may be nil to disable the event stream.
func NewServer(registry *escrow.Registry, accounts ledger.Accounts, hub *Hub, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		registry: registry,
		accounts: accounts,
		hub:      hub,
		opts:     opts,
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := r.Group("/v1")
	{
		swaps := v1.Group("/swaps")
		swaps.POST("", s.createSwap)
		swaps.GET("", s.listSwaps)
		swaps.GET("/:id", s.getSwap)
		swaps.POST("/:id/execute", s.executeSwap)
		swaps.POST("/:id/cancel", s.cancelSwap)

		accounts := v1.Group("/accounts")
		accounts.GET("/:owner/balances/:asset", s.getBalance)
		accounts.POST("/approvals", s.approve)
		if s.opts.EnableFaucet {
			accounts.POST("/credits", s.credit)
		}

		if s.hub != nil {
			v1.GET("/events/stream", s.hub.Serve)
		}
	}
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", CallerHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 || (len(s.opts.CORSOrigins) == 1 && s.opts.CORSOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
	}
	return cfg
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
