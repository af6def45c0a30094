// Package grpcapi serves the standard gRPC health protocol so orchestrators
// can probe the server without speaking HTTP.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "lumen.Server"

const DefaultCheckInterval = 15 * time.Second

// Checker reports whether the server's backing store is usable.
type Checker func(ctx context.Context) error

type Config struct {
	Addr          string
	CheckInterval time.Duration
}

type Server struct {
	cfg     Config
	grpc    *grpc.Server
	health  *health.Server
	check   Checker
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewServer(cfg Config, check Checker, clock clockwork.Clock, logger *slog.Logger) *Server {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{cfg: cfg, grpc: gs, health: hs, check: check, clock: clock, logger: logger.With("component", "grpc")}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Run listens on cfg.Addr, keeps the health status current and stops
// gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("grpc server listening", "addr", lis.Addr().String())

	go s.Watch(ctx)
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.Serve(lis)
}

// Watch probes the checker immediately and then on every interval.
func (s *Server) Watch(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (s *Server) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		if err := s.check(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("health check failed", "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.set(status)
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop marks every service as not serving and stops the server after
// in-flight RPCs finish.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
