package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	authv1 "authgate/api/auth/v1"
	"authgate/internal/identity/service"
	"authgate/internal/platform/apperr"
	"authgate/internal/server/interceptors"
	vdomain "authgate/internal/verification/domain"
)

// AuthServer implements AuthService (gRPC server) for signup, login, password reset, refresh and logout.
// Service: authgate.auth.v1.AuthService → internal/identity/handler.
type AuthServer struct {
	authv1.UnimplementedAuthServiceServer
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, all RPCs return Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

// Register creates an account. Signup verification starts with StartSignup.
func (s *AuthServer) Register(ctx context.Context, req *authv1.RegisterRequest) (*authv1.RegisterResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.Register(ctx, req)
	}
	id, err := s.auth.Register(ctx, req.Email, req.Password, req.Phone)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return &authv1.RegisterResponse{UserID: id}, nil
}

// StartSignup issues the code for the user's next signup step.
func (s *AuthServer) StartSignup(ctx context.Context, req *authv1.StartSignupRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.StartSignup(ctx, req)
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	step, err := s.auth.StartSignup(ctx, req.UserID)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return stepToProto(step), nil
}

// VerifySignup checks a signup code.
func (s *AuthServer) VerifySignup(ctx context.Context, req *authv1.VerifyOTPRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.VerifySignup(ctx, req)
	}
	f, err := verifyArgs(req)
	if err != nil {
		return nil, err
	}
	step, err := s.auth.VerifySignup(ctx, req.UserID, f, req.Otp)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return stepToProto(step), nil
}

// Login checks email and password and issues the first login code.
func (s *AuthServer) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.Login(ctx, req)
	}
	step, err := s.auth.BeginLogin(ctx, req.Email, req.Password)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return stepToProto(step), nil
}

// VerifyLogin checks a login code and returns tokens once every factor is verified.
// The device is taken from the caller's IP and user agent.
func (s *AuthServer) VerifyLogin(ctx context.Context, req *authv1.VerifyOTPRequest) (*authv1.VerifyLoginResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.VerifyLogin(ctx, req)
	}
	f, err := verifyArgs(req)
	if err != nil {
		return nil, err
	}
	res, err := s.auth.CompleteLogin(ctx, service.CompleteLogin{
		UserID:    req.UserID,
		Factor:    f,
		OTP:       req.Otp,
		IP:        interceptors.ClientIP(ctx),
		UserAgent: interceptors.UserAgent(ctx),
	})
	if err != nil {
		return nil, authErrToStatus(err)
	}
	out := &authv1.VerifyLoginResponse{
		Step:              stepToProto(&res.Step),
		EvictedSessionIDs: res.Evicted,
	}
	if res.Tokens != nil {
		out.Tokens = tokensToProto(res.Tokens)
	}
	return out, nil
}

// ResendOTP re-issues the active code of (user, factor, context).
func (s *AuthServer) ResendOTP(ctx context.Context, req *authv1.ResendOTPRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.ResendOTP(ctx, req)
	}
	f, c, err := factorContextArgs(req.UserID, req.Factor, req.Context)
	if err != nil {
		return nil, err
	}
	step, err := s.auth.Resend(ctx, req.UserID, f, c)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return stepToProto(step), nil
}

// ChangeFactor switches the pending code of a flow to another factor.
func (s *AuthServer) ChangeFactor(ctx context.Context, req *authv1.ChangeFactorRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.ChangeFactor(ctx, req)
	}
	f, c, err := factorContextArgs(req.UserID, req.Factor, req.Context)
	if err != nil {
		return nil, err
	}
	step, err := s.auth.ChangeFactor(ctx, req.UserID, c, f)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return stepToProto(step), nil
}

// BeginPasswordReset emails a reset code. The response is the same whether or not the account exists.
func (s *AuthServer) BeginPasswordReset(ctx context.Context, req *authv1.BeginPasswordResetRequest) (*authv1.StepResponse, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.BeginPasswordReset(ctx, req)
	}
	if req.Email == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}
	step, err := s.auth.BeginPasswordReset(ctx, req.Email)
	if err != nil {
		return nil, authErrToStatus(err)
	}
	out := stepToProto(step)
	out.ChallengeID = ""
	out.ExpiresAt = nil
	return out, nil
}

// CompletePasswordReset sets a new password and signs the user out everywhere.
func (s *AuthServer) CompletePasswordReset(ctx context.Context, req *authv1.CompletePasswordResetRequest) (*authv1.Empty, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.CompletePasswordReset(ctx, req)
	}
	if req.Email == "" || req.Otp == "" {
		return nil, status.Error(codes.InvalidArgument, "email and otp are required")
	}
	if err := s.auth.CompletePasswordReset(ctx, req.Email, req.Otp, req.NewPassword); err != nil {
		return nil, authErrToStatus(err)
	}
	return &authv1.Empty{}, nil
}

// Refresh rotates a refresh token.
func (s *AuthServer) Refresh(ctx context.Context, req *authv1.RefreshRequest) (*authv1.TokenPair, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.Refresh(ctx, req)
	}
	tokens, err := s.auth.Refresh(ctx, req.RefreshToken, interceptors.ClientIP(ctx))
	if err != nil {
		return nil, authErrToStatus(err)
	}
	return tokensToProto(tokens), nil
}

// Logout revokes the session the request was authenticated with.
func (s *AuthServer) Logout(ctx context.Context, req *authv1.Empty) (*authv1.Empty, error) {
	if s.auth == nil {
		return s.UnimplementedAuthServiceServer.Logout(ctx, req)
	}
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	if err := s.auth.Logout(ctx, sessionID); err != nil {
		return nil, authErrToStatus(err)
	}
	return &authv1.Empty{}, nil
}

func verifyArgs(req *authv1.VerifyOTPRequest) (vdomain.Factor, error) {
	if req.UserID == "" || req.Otp == "" {
		return "", status.Error(codes.InvalidArgument, "user_id and otp are required")
	}
	f, err := vdomain.ParseFactor(req.Factor)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return f, nil
}

func factorContextArgs(userID, factor, flow string) (vdomain.Factor, vdomain.Context, error) {
	if userID == "" {
		return "", "", status.Error(codes.InvalidArgument, "user_id is required")
	}
	f, err := vdomain.ParseFactor(factor)
	if err != nil {
		return "", "", status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := vdomain.ParseContext(flow)
	if err != nil {
		return "", "", status.Error(codes.InvalidArgument, err.Error())
	}
	return f, c, nil
}

func stepToProto(s *service.Step) *authv1.StepResponse {
	out := &authv1.StepResponse{
		UserID:   s.UserID,
		NextStep: string(s.NextStep),
		DevOtp:   s.DevOTP,
	}
	if s.Challenge != nil {
		out.ChallengeID = s.Challenge.ID
		exp := s.Challenge.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

func tokensToProto(t *service.Tokens) *authv1.TokenPair {
	return &authv1.TokenPair{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
		SessionID:        t.SessionID,
	}
}

// authErrToStatus maps AuthService errors to gRPC status.
func authErrToStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return apperr.GRPCStatus(err)
	}
}
