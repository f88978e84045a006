// Package server is the keeper's HTTP surface: health, wallet and failure
// counter inspection, audit history, Prometheus metrics and the observer
// WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/keeperbot/internal/server/handler"
	"github.com/alanyoungcy/keeperbot/internal/server/middleware"
	"github.com/alanyoungcy/keeperbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RatePerSecond limits requests per client IP; zero disables limiting.
	RatePerSecond float64
	RateBurst     int
}

// Handlers aggregates the HTTP handlers the server registers. Nil handlers
// leave their routes unregistered.
type Handlers struct {
	Health   *handler.HealthHandler
	Wallets  *handler.WalletHandler
	Failures *handler.FailureHandler
	History  *handler.HistoryHandler
	Archives *handler.ArchiveHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths skip API key authentication so probes and scrapers work.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer creates a Server with every available route registered and the
// middleware chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           newHandler(cfg, handlers, wsHub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Wallets != nil {
		mux.HandleFunc("GET /api/wallets", handlers.Wallets.ListWallets)
	}
	if handlers.Failures != nil {
		mux.HandleFunc("GET /api/rollover/failures", handlers.Failures.ListFailures)
		mux.HandleFunc("DELETE /api/rollover/failures/{loanId}", handlers.Failures.ClearFailures)
	}
	if handlers.History != nil {
		mux.HandleFunc("GET /api/rollovers", handlers.History.ListRollovers)
		mux.HandleFunc("GET /api/arbitrages", handlers.History.ListArbitrages)
		mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	}
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.RateLimit(cfg.RatePerSecond, cfg.RateBurst)(h)
	h = middleware.Logging(logger, publicPaths...)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
