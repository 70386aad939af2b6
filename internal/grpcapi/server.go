package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/alanyoungcy/cyclearb/internal/grpcapi/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr            string
	MaxRecvMsgBytes int
	ShutdownTimeout time.Duration
}

// Server owns one gRPC listener with the health service registered.
type Server struct {
	cfg      ServerConfig
	server   *grpc.Server
	health   *health.Server
	services []string
	logger   *slog.Logger
}

// NewServer creates a Server. Services are registered before Run.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.MaxRecvMsgBytes <= 0 {
		cfg.MaxRecvMsgBytes = 10 * 1024 * 1024
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger = logger.With(slog.String("component", "grpc_server"), slog.String("addr", cfg.Addr))
	srv := grpc.NewServer(
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgBytes),
		grpc.ChainUnaryInterceptor(unaryLogging(logger)),
		grpc.ChainStreamInterceptor(streamLogging(logger)),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	return &Server{cfg: cfg, server: srv, health: hs, logger: logger}
}

// RegisterIngress serves md.OrderBookIngress.
func (s *Server) RegisterIngress(svc IngressService) {
	s.server.RegisterService(&IngressServiceDesc, svc)
	s.services = append(s.services, IngressServiceName)
}

// RegisterExecutor serves exec.Executor.
func (s *Server) RegisterExecutor(svc ExecutorService) {
	s.server.RegisterService(&ExecutorServiceDesc, svc)
	s.services = append(s.services, ExecutorServiceName)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("grpc: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully, forcing
// a stop once the shutdown timeout passes.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	for _, name := range s.services {
		s.health.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(lis)
	}()
	s.logger.Info("grpc server listening",
		slog.String("listen", lis.Addr().String()),
		slog.Any("services", s.services),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("grpc server stopped gracefully")
	case <-timer.C:
		s.logger.Warn("grpc graceful shutdown timeout, forcing stop")
		s.server.Stop()
	}
	return nil
}

func unaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.DebugContext(ctx, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

func streamLogging(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logger.InfoContext(ss.Context(), "grpc stream",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
}
