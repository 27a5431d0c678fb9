// Package sessionv1 defines SessionService: a signed-in user's view of their own sessions.
package sessionv1

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authgate/api/codec"
)

const ServiceName = "authgate.session.v1.SessionService"

const (
	SessionService_ListSessions_FullMethod      = "/" + ServiceName + "/ListSessions"
	SessionService_RevokeSession_FullMethod     = "/" + ServiceName + "/RevokeSession"
	SessionService_RevokeAllSessions_FullMethod = "/" + ServiceName + "/RevokeAllSessions"
)

type Empty struct{}

// Session is the client view of a session. Token hashes never leave the server.
type Session struct {
	ID               string    `json:"id"`
	DeviceLabel      string    `json:"device_label"`
	IPAddress        string    `json:"ip_address"`
	IssuedAt         time.Time `json:"issued_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	// Current marks the session the request was made with.
	Current bool `json:"current"`
}

type ListSessionsResponse struct {
	Sessions              []*Session `json:"sessions"`
	MaxConcurrentSessions int        `json:"max_concurrent_sessions"`
}

type RevokeSessionRequest struct {
	SessionID string `json:"session_id"`
}

type RevokeAllSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	ListSessions(context.Context, *Empty) (*ListSessionsResponse, error)
	RevokeSession(context.Context, *RevokeSessionRequest) (*Empty, error)
	RevokeAllSessions(context.Context, *Empty) (*RevokeAllSessionsResponse, error)
}

// UnimplementedSessionServiceServer returns Unimplemented for every method.
type UnimplementedSessionServiceServer struct{}

func (UnimplementedSessionServiceServer) ListSessions(context.Context, *Empty) (*ListSessionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
}
func (UnimplementedSessionServiceServer) RevokeSession(context.Context, *RevokeSessionRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RevokeSession not implemented")
}
func (UnimplementedSessionServiceServer) RevokeAllSessions(context.Context, *Empty) (*RevokeAllSessionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RevokeAllSessions not implemented")
}

var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSessions", Handler: codec.Unary(SessionService_ListSessions_FullMethod, SessionServiceServer.ListSessions)},
		{MethodName: "RevokeSession", Handler: codec.Unary(SessionService_RevokeSession_FullMethod, SessionServiceServer.RevokeSession)},
		{MethodName: "RevokeAllSessions", Handler: codec.Unary(SessionService_RevokeAllSessions_FullMethod, SessionServiceServer.RevokeAllSessions)},
	},
	Metadata: "authgate/session/v1/session",
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) ListSessions(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return codec.Invoke[ListSessionsResponse](ctx, c.cc, SessionService_ListSessions_FullMethod, in, opts...)
}

func (c *SessionServiceClient) RevokeSession(ctx context.Context, in *RevokeSessionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return codec.Invoke[Empty](ctx, c.cc, SessionService_RevokeSession_FullMethod, in, opts...)
}

func (c *SessionServiceClient) RevokeAllSessions(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*RevokeAllSessionsResponse, error) {
	return codec.Invoke[RevokeAllSessionsResponse](ctx, c.cc, SessionService_RevokeAllSessions_FullMethod, in, opts...)
}
