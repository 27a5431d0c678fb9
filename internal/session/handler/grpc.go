package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sessionv1 "authgate/api/session/v1"
	"authgate/internal/platform/apperr"
	"authgate/internal/server/interceptors"
	"authgate/internal/session/domain"
)

// Sessions is the slice of the auth service the session RPCs need.
type Sessions interface {
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
}

// Server implements SessionService (gRPC server): the caller's own sessions.
// Service: authgate.session.v1.SessionService → internal/session/handler.
type Server struct {
	sessionv1.UnimplementedSessionServiceServer
	sessions Sessions
	limit    int
}

// NewServer returns a new Session gRPC server. If sessions is nil, all RPCs return Unimplemented.
// limit is reported to clients as max_concurrent_sessions.
func NewServer(sessions Sessions, limit int) *Server {
	return &Server{sessions: sessions, limit: limit}
}

// ListSessions returns the caller's active sessions, most recently used first.
func (s *Server) ListSessions(ctx context.Context, req *sessionv1.Empty) (*sessionv1.ListSessionsResponse, error) {
	if s.sessions == nil {
		return s.UnimplementedSessionServiceServer.ListSessions(ctx, req)
	}
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperr.GRPCStatus(err)
	}
	current, _ := interceptors.GetSessionID(ctx)
	out := make([]*sessionv1.Session, len(list))
	for i := range list {
		out[i] = domainSessionToProto(list[i], current)
	}
	return &sessionv1.ListSessionsResponse{Sessions: out, MaxConcurrentSessions: s.limit}, nil
}

// RevokeSession signs out one of the caller's sessions. Another user's session is NotFound.
func (s *Server) RevokeSession(ctx context.Context, req *sessionv1.RevokeSessionRequest) (*sessionv1.Empty, error) {
	if s.sessions == nil {
		return s.UnimplementedSessionServiceServer.RevokeSession(ctx, req)
	}
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id required")
	}
	if err := s.sessions.RevokeSession(ctx, userID, req.SessionID); err != nil {
		return nil, apperr.GRPCStatus(err)
	}
	return &sessionv1.Empty{}, nil
}

// RevokeAllSessions signs the caller out everywhere, including the current session.
func (s *Server) RevokeAllSessions(ctx context.Context, req *sessionv1.Empty) (*sessionv1.RevokeAllSessionsResponse, error) {
	if s.sessions == nil {
		return s.UnimplementedSessionServiceServer.RevokeAllSessions(ctx, req)
	}
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.sessions.LogoutAll(ctx, userID)
	if err != nil {
		return nil, apperr.GRPCStatus(err)
	}
	return &sessionv1.RevokeAllSessionsResponse{Revoked: n}, nil
}

func caller(ctx context.Context) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

func domainSessionToProto(s *domain.Session, current string) *sessionv1.Session {
	return &sessionv1.Session{
		ID:               s.ID,
		DeviceLabel:      s.DeviceLabel,
		IPAddress:        s.IPAddress,
		IssuedAt:         s.IssuedAt,
		LastUsedAt:       s.LastUsedAt,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		Current:          s.ID == current,
	}
}
