// Package handler implements the standard gRPC health service for readiness probes.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"authgate/internal/platform/logger"
)

const checkTimeout = 2 * time.Second

// Pinger is a dependency whose reachability gates readiness (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker is the MFA policy evaluator (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server implements grpc.health.v1.Health. Check runs every configured dependency check; any
// failure reports NOT_SERVING. services lists the names accepted besides "" (the whole server).
type Server struct {
	healthpb.UnimplementedHealthServer
	pingers  map[string]Pinger
	policy   PolicyChecker
	services map[string]bool
	log      *zap.Logger
}

// NewServer returns a health server. pingers are keyed by a name used in logs; nil entries and a nil
// policy are skipped.
func NewServer(pingers map[string]Pinger, policy PolicyChecker, services []string, l *zap.Logger) *Server {
	known := make(map[string]bool, len(services))
	for _, s := range services {
		known[s] = true
	}
	return &Server{
		pingers:  pingers,
		policy:   policy,
		services: known,
		log:      logger.WithComponent(l, "health"),
	}
}

// Check reports SERVING when every dependency answers within the check timeout.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && !s.services[svc] {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("dependency check failed", zap.String("dependency", name), zap.Error(err))
			return notServing(), nil
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.log.Warn("policy check failed", zap.Error(err))
			return notServing(), nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func notServing() *healthpb.HealthCheckResponse {
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
}
