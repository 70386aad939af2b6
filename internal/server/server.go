// Package server exposes the read-only status API and the event WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/server/handler"
	"github.com/alanyoungcy/cyclearb/internal/server/middleware"
	"github.com/alanyoungcy/cyclearb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	ShutdownTimeout time.Duration
}

// Handlers groups the route handlers. Decisions is nil when the process
// neither arbitrates nor journals.
type Handlers struct {
	Health    *handler.HealthHandler
	Books     *handler.BookHandler
	Decisions *handler.DecisionHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	cfg        Config
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in CORS, logging and auth.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger = logger.With(slog.String("component", "http"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{exchange}/{symbol}", handlers.Books.GetBook)
	mux.HandleFunc("GET /api/ingest/stats", handlers.Books.IngestStats)
	mux.HandleFunc("GET /api/cycles", handlers.Books.ListCycles)

	if handlers.Decisions != nil {
		mux.HandleFunc("GET /api/decisions/recent", handlers.Decisions.ListRecent)
		mux.HandleFunc("GET /api/decisions/stats", handlers.Decisions.Stats)
		mux.HandleFunc("GET /api/audit", handlers.Decisions.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("listening", slog.String("addr", lis.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
