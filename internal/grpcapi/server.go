package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chatarra.io/internal/auth"
)

// ServiceName is reported through the health service alongside "".
const ServiceName = "chatarra.auth"

// Authenticator validates bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Server wraps a grpc.Server with bearer authentication and health reporting.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  ReadinessChecker
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the gRPC server. Every method except the health service
// requires a valid bearer token in the authorization metadata.
func NewServer(authn Authenticator, ready ReadinessChecker, opts ...Option) *Server {
	s := &Server{
		health: health.NewServer(),
		ready:  ready,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryAuth(authn)),
		grpc.ChainStreamInterceptor(StreamAuth(authn)),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC exposes the underlying server for service registration.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error { return s.grpc.Serve(lis) }

// Stop drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// WatchReadiness polls the readiness checker and mirrors the result into the
// health service until ctx is done.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s.checkReady(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkReady(ctx)
		}
	}
}

func (s *Server) checkReady(ctx context.Context) {
	if s.ready == nil {
		s.setServing(healthpb.HealthCheckResponse_SERVING)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ready.Ready(cctx); err != nil {
		s.logger.Warn("grpc readiness check failed", zap.Error(err))
		s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setServing(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setServing(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
