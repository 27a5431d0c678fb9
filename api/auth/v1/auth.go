// Package authv1 defines AuthService: signup, login, OTP steps, password reset, refresh and logout.
package authv1

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authgate/api/codec"
)

const ServiceName = "authgate.auth.v1.AuthService"

// Full method names.
const (
	AuthService_Register_FullMethod              = "/" + ServiceName + "/Register"
	AuthService_StartSignup_FullMethod           = "/" + ServiceName + "/StartSignup"
	AuthService_VerifySignup_FullMethod          = "/" + ServiceName + "/VerifySignup"
	AuthService_Login_FullMethod                 = "/" + ServiceName + "/Login"
	AuthService_VerifyLogin_FullMethod           = "/" + ServiceName + "/VerifyLogin"
	AuthService_ResendOTP_FullMethod             = "/" + ServiceName + "/ResendOTP"
	AuthService_ChangeFactor_FullMethod          = "/" + ServiceName + "/ChangeFactor"
	AuthService_BeginPasswordReset_FullMethod    = "/" + ServiceName + "/BeginPasswordReset"
	AuthService_CompletePasswordReset_FullMethod = "/" + ServiceName + "/CompletePasswordReset"
	AuthService_Refresh_FullMethod               = "/" + ServiceName + "/Refresh"
	AuthService_Logout_FullMethod                = "/" + ServiceName + "/Logout"
)

type Empty struct{}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type StartSignupRequest struct {
	UserID string `json:"user_id"`
}

// VerifyOTPRequest is shared by VerifySignup and VerifyLogin.
type VerifyOTPRequest struct {
	UserID string `json:"user_id"`
	Factor string `json:"factor"`
	Otp    string `json:"otp"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ResendOTPRequest struct {
	UserID  string `json:"user_id"`
	Factor  string `json:"factor"`
	Context string `json:"context"`
}

type ChangeFactorRequest struct {
	UserID  string `json:"user_id"`
	Context string `json:"context"`
	Factor  string `json:"factor"`
}

type BeginPasswordResetRequest struct {
	Email string `json:"email"`
}

type CompletePasswordResetRequest struct {
	Email       string `json:"email"`
	Otp         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// StepResponse tells the client what to send next. ChallengeID and ExpiresAt are set when a code
// was issued by the call; DevOtp only in dev OTP mode.
type StepResponse struct {
	UserID      string     `json:"user_id,omitempty"`
	NextStep    string     `json:"next_step"`
	ChallengeID string     `json:"challenge_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	DevOtp      string     `json:"dev_otp,omitempty"`
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// VerifyLoginResponse carries tokens once NextStep is COMPLETE.
type VerifyLoginResponse struct {
	Step              *StepResponse `json:"step"`
	Tokens            *TokenPair    `json:"tokens,omitempty"`
	EvictedSessionIDs []string      `json:"evicted_session_ids,omitempty"`
}

// AuthServiceServer is the server API for AuthService.
type AuthServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	StartSignup(context.Context, *StartSignupRequest) (*StepResponse, error)
	VerifySignup(context.Context, *VerifyOTPRequest) (*StepResponse, error)
	Login(context.Context, *LoginRequest) (*StepResponse, error)
	VerifyLogin(context.Context, *VerifyOTPRequest) (*VerifyLoginResponse, error)
	ResendOTP(context.Context, *ResendOTPRequest) (*StepResponse, error)
	ChangeFactor(context.Context, *ChangeFactorRequest) (*StepResponse, error)
	BeginPasswordReset(context.Context, *BeginPasswordResetRequest) (*StepResponse, error)
	CompletePasswordReset(context.Context, *CompletePasswordResetRequest) (*Empty, error)
	Refresh(context.Context, *RefreshRequest) (*TokenPair, error)
	Logout(context.Context, *Empty) (*Empty, error)
}

// UnimplementedAuthServiceServer returns Unimplemented for every method.
type UnimplementedAuthServiceServer struct{}

func (UnimplementedAuthServiceServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedAuthServiceServer) StartSignup(context.Context, *StartSignupRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StartSignup not implemented")
}
func (UnimplementedAuthServiceServer) VerifySignup(context.Context, *VerifyOTPRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifySignup not implemented")
}
func (UnimplementedAuthServiceServer) Login(context.Context, *LoginRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedAuthServiceServer) VerifyLogin(context.Context, *VerifyOTPRequest) (*VerifyLoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyLogin not implemented")
}
func (UnimplementedAuthServiceServer) ResendOTP(context.Context, *ResendOTPRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ResendOTP not implemented")
}
func (UnimplementedAuthServiceServer) ChangeFactor(context.Context, *ChangeFactorRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ChangeFactor not implemented")
}
func (UnimplementedAuthServiceServer) BeginPasswordReset(context.Context, *BeginPasswordResetRequest) (*StepResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BeginPasswordReset not implemented")
}
func (UnimplementedAuthServiceServer) CompletePasswordReset(context.Context, *CompletePasswordResetRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method CompletePasswordReset not implemented")
}
func (UnimplementedAuthServiceServer) Refresh(context.Context, *RefreshRequest) (*TokenPair, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}
func (UnimplementedAuthServiceServer) Logout(context.Context, *Empty) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
}

// AuthService_ServiceDesc is the grpc.ServiceDesc for AuthService.
var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: codec.Unary(AuthService_Register_FullMethod, AuthServiceServer.Register)},
		{MethodName: "StartSignup", Handler: codec.Unary(AuthService_StartSignup_FullMethod, AuthServiceServer.StartSignup)},
		{MethodName: "VerifySignup", Handler: codec.Unary(AuthService_VerifySignup_FullMethod, AuthServiceServer.VerifySignup)},
		{MethodName: "Login", Handler: codec.Unary(AuthService_Login_FullMethod, AuthServiceServer.Login)},
		{MethodName: "VerifyLogin", Handler: codec.Unary(AuthService_VerifyLogin_FullMethod, AuthServiceServer.VerifyLogin)},
		{MethodName: "ResendOTP", Handler: codec.Unary(AuthService_ResendOTP_FullMethod, AuthServiceServer.ResendOTP)},
		{MethodName: "ChangeFactor", Handler: codec.Unary(AuthService_ChangeFactor_FullMethod, AuthServiceServer.ChangeFactor)},
		{MethodName: "BeginPasswordReset", Handler: codec.Unary(AuthService_BeginPasswordReset_FullMethod, AuthServiceServer.BeginPasswordReset)},
		{MethodName: "CompletePasswordReset", Handler: codec.Unary(AuthService_CompletePasswordReset_FullMethod, AuthServiceServer.CompletePasswordReset)},
		{MethodName: "Refresh", Handler: codec.Unary(AuthService_Refresh_FullMethod, AuthServiceServer.Refresh)},
		{MethodName: "Logout", Handler: codec.Unary(AuthService_Logout_FullMethod, AuthServiceServer.Logout)},
	},
	Metadata: "authgate/auth/v1/auth",
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

// AuthServiceClient is the client API for AuthService.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return codec.Invoke[RegisterResponse](ctx, c.cc, AuthService_Register_FullMethod, in, opts...)
}

func (c *AuthServiceClient) StartSignup(ctx context.Context, in *StartSignupRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_StartSignup_FullMethod, in, opts...)
}

func (c *AuthServiceClient) VerifySignup(ctx context.Context, in *VerifyOTPRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_VerifySignup_FullMethod, in, opts...)
}

func (c *AuthServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_Login_FullMethod, in, opts...)
}

func (c *AuthServiceClient) VerifyLogin(ctx context.Context, in *VerifyOTPRequest, opts ...grpc.CallOption) (*VerifyLoginResponse, error) {
	return codec.Invoke[VerifyLoginResponse](ctx, c.cc, AuthService_VerifyLogin_FullMethod, in, opts...)
}

func (c *AuthServiceClient) ResendOTP(ctx context.Context, in *ResendOTPRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_ResendOTP_FullMethod, in, opts...)
}

func (c *AuthServiceClient) ChangeFactor(ctx context.Context, in *ChangeFactorRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_ChangeFactor_FullMethod, in, opts...)
}

func (c *AuthServiceClient) BeginPasswordReset(ctx context.Context, in *BeginPasswordResetRequest, opts ...grpc.CallOption) (*StepResponse, error) {
	return codec.Invoke[StepResponse](ctx, c.cc, AuthService_BeginPasswordReset_FullMethod, in, opts...)
}

func (c *AuthServiceClient) CompletePasswordReset(ctx context.Context, in *CompletePasswordResetRequest, opts ...grpc.CallOption) (*Empty, error) {
	return codec.Invoke[Empty](ctx, c.cc, AuthService_CompletePasswordReset_FullMethod, in, opts...)
}

func (c *AuthServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return codec.Invoke[TokenPair](ctx, c.cc, AuthService_Refresh_FullMethod, in, opts...)
}

func (c *AuthServiceClient) Logout(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return codec.Invoke[Empty](ctx, c.cc, AuthService_Logout_FullMethod, in, opts...)
}
