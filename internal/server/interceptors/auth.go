package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	identityservice "authgate/internal/identity/service"
	"authgate/internal/platform/apperr"
	"authgate/internal/platform/logger"
)

const bearerPrefix = "bearer "

// Authenticator resolves an access token to the caller. *identityservice.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identityservice.Principal, error)
}

// AuthUnary returns a unary server interceptor that authenticates the Bearer access token from gRPC
// metadata and sets user_id and session_id in context for protected RPCs. The token must be the
// current access token of a live session, so a logged-out or rotated token is refused.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. AuthService Register, Login, Refresh). A public method called with a bad token proceeds
// anonymously. Store failures surface as Unavailable rather than Unauthenticated.
func AuthUnary(auth Authenticator, publicMethods map[string]bool, l *zap.Logger) grpc.UnaryServerInterceptor {
	log := logger.WithComponent(l, "auth")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		p, err := auth.Authenticate(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			if apperr.Retryable(err) {
				log.Warn("authenticate failed", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, status.Error(codes.Unavailable, "authentication temporarily unavailable")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithIdentity(ctx, p.Claims.UserID, p.Session.ID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
