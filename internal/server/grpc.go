package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authv1 "authgate/api/auth/v1"
	devv1 "authgate/api/dev/v1"
	sessionv1 "authgate/api/session/v1"
	"authgate/internal/audit"
	healthhandler "authgate/internal/health/handler"
	identityhandler "authgate/internal/identity/handler"
	identityservice "authgate/internal/identity/service"
	"authgate/internal/platform/metrics"
	"authgate/internal/server/interceptors"
	sessionhandler "authgate/internal/session/handler"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the auth service behind AuthService, SessionService and the auth interceptor.
	// If nil, those RPCs return Unimplemented and no request is authenticated.
	Auth *identityservice.AuthService
	// MaxConcurrentSessions is reported by ListSessions.
	MaxConcurrentSessions int
	// HealthPingers gate readiness (e.g. "postgres" → *pgxpool.Pool). Nil entries are skipped.
	HealthPingers map[string]healthhandler.Pinger
	// HealthPolicyChecker is used for readiness (e.g. OPA evaluator). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	// DevOTPHandler is the dev-only DevService (GetOTP). If nil, DevService is not registered. Set only when dev OTP is enabled and not production.
	DevOTPHandler devv1.DevServiceServer
	// Audit receives one event per authenticated RPC. If nil, RPCs are not audited.
	Audit   audit.AuditLogger
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// publicMethods run without a bearer token. Every other method requires a live session.
var publicMethods = map[string]bool{
	authv1.AuthService_Register_FullMethod:              true,
	authv1.AuthService_StartSignup_FullMethod:           true,
	authv1.AuthService_VerifySignup_FullMethod:          true,
	authv1.AuthService_Login_FullMethod:                 true,
	authv1.AuthService_VerifyLogin_FullMethod:           true,
	authv1.AuthService_ResendOTP_FullMethod:             true,
	authv1.AuthService_ChangeFactor_FullMethod:          true,
	authv1.AuthService_BeginPasswordReset_FullMethod:    true,
	authv1.AuthService_CompletePasswordReset_FullMethod: true,
	authv1.AuthService_Refresh_FullMethod:               true,
	healthpb.Health_Check_FullMethodName:                true,
	healthpb.Health_Watch_FullMethodName:                true,
	devv1.DevService_GetOTP_FullMethod:                  true,
}

// quietMethods are neither logged per call nor audited.
var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// IsPublic reports whether fullMethod runs without authentication.
func IsPublic(fullMethod string) bool {
	return publicMethods[fullMethod]
}

// NewServer builds a gRPC server with the recovery, logging, auth and audit interceptors (in that
// order) and OpenTelemetry instrumentation, and registers every service.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		interceptors.RecoveryUnary(deps.Logger),
		interceptors.LoggingUnary(deps.Logger, deps.Metrics, quietMethods),
	}
	if deps.Auth != nil {
		chain = append(chain, interceptors.AuthUnary(deps.Auth, publicMethods, deps.Logger))
	}
	if deps.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(deps.Audit, quietMethods))
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - AuthService    → internal/identity/handler
//   - SessionService → internal/session/handler
//   - Health         → internal/health/handler
//   - DevService     → internal/devotp/handler (dev only)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	authv1.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	var sessions sessionhandler.Sessions
	if deps.Auth != nil {
		sessions = deps.Auth
	}
	sessionv1.RegisterSessionServiceServer(s, sessionhandler.NewServer(sessions, deps.MaxConcurrentSessions))
	services := []string{authv1.ServiceName, sessionv1.ServiceName}
	if deps.DevOTPHandler != nil {
		devv1.RegisterDevServiceServer(s, deps.DevOTPHandler)
		services = append(services, devv1.ServiceName)
	}
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPingers, deps.HealthPolicyChecker, services, deps.Logger))
}
