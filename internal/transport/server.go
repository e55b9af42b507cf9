// Package transport serves the HTTP API and the gRPC health service on one
// listener. cmux routes connections by their first bytes: HTTP/2 requests
// with content-type application/grpc go to gRPC, everything else to HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Config tunes the HTTP side. Zero values fall back to DefaultConfig.
type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig matches the route timeouts in internal/api. WriteTimeout is
// zero because /api/chat/stream holds the response open for as long as the
// model keeps talking; per-route chi timeouts bound everything else.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 20 * time.Second,
	}
}

// Server multiplexes HTTP and gRPC on a single port.
type Server struct {
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	cfg    Config
	logger *slog.Logger

	closing atomic.Bool
}

// New wires handler behind an http.Server and registers grpc.health.v1 on a
// fresh grpc.Server. The overall health status starts as SERVING.
func New(handler http.Handler, cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		grpc:   gs,
		health: hs,
		cfg:    cfg,
		logger: logger,
	}
}

// SetServing flips the gRPC health status, e.g. when a dependency goes away.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// WatchHealth runs check now and then every interval, mirroring the result
// into the gRPC health status. It blocks until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, check func(context.Context) error, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		err := check(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if ok := err == nil; ok != serving {
			serving = ok
			if ok {
				s.logger.Info("transport: dependencies recovered, serving")
			} else {
				s.logger.Warn("transport: dependency check failed, not serving", "error", err)
			}
		}
		s.SetServing(serving)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve blocks until ctx is cancelled or one of the servers fails. On
// cancellation it drains HTTP requests for up to ShutdownTimeout, stops gRPC
// gracefully and returns nil.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ignoreClosed("grpc", s.grpc.Serve(grpcL)) })
	g.Go(func() error { return s.ignoreClosed("http", s.http.Serve(httpL)) })
	g.Go(func() error { return s.ignoreClosed("mux", m.Serve()) })

	s.logger.Info("transport: listening", "addr", l.Addr().String())

	g.Go(func() error {
		<-gctx.Done()
		s.closing.Store(true)
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		s.grpc.GracefulStop()
		m.Close()
		if err != nil {
			return fmt.Errorf("transport: http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("transport: stopped")
	return nil
}

// ignoreClosed drops the errors every server returns once shutdown has begun.
func (s *Server) ignoreClosed(name string, err error) error {
	if err == nil || s.closing.Load() {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("transport: %s: %w", name, err)
}
