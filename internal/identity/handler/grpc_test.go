package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authv1 "authgate/api/auth/v1"
	"authgate/internal/devotp"
	"authgate/internal/identity/service"
	"authgate/internal/mfa"
	"authgate/internal/notify"
	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
	"authgate/internal/security"
	"authgate/internal/server/interceptors"
	sessionrepo "authgate/internal/session/repository"
	sessionservice "authgate/internal/session/service"
	"authgate/internal/user"
	userrepo "authgate/internal/user/repository"
	vrepo "authgate/internal/verification/repository"
	vservice "authgate/internal/verification/service"
)

const (
	testPassword = "Correct-Horse-9"
	emailCode    = "654321"
)

func newAuthService(t *testing.T) *service.AuthService {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	users := userrepo.NewMemoryRepository()
	codesStore := devotp.NewMemoryStore(clk)
	tokens, err := security.NewTestTokenCodec(clk)
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	engine := vservice.NewEngine(vservice.DefaultConfig(), vservice.Deps{
		Repo:       vrepo.NewMemoryRepository(),
		Hasher:     security.DigestHasher{},
		SMSCodes:   mfa.FixedGenerator{Code: "123456"},
		EmailCodes: mfa.FixedGenerator{Code: emailCode},
		Notifier:   notify.NewDevNotifier(codesStore),
		Recipients: user.NewDirectory(users),
		Clock:      clk,
	})
	mgr := sessionservice.NewManager(sessionservice.Config{}, sessionservice.Deps{
		Repo:  sessionrepo.NewMemoryRepository(),
		Clock: clk,
	})
	return service.NewAuthService(service.Config{
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		OTPReturnToClient: true,
	}, service.Deps{
		Users:        users,
		Passwords:    security.DigestHasher{},
		Verification: engine,
		Tokens:       tokens,
		Sessions:     mgr,
		DevOTP:       codesStore,
		Clock:        clk,
	})
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil error", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error is not a gRPC status: %v", err)
	}
	if st.Code() != want {
		t.Errorf("status code = %v, want %v (%s)", st.Code(), want, st.Message())
	}
}

func TestNilAuthService_Unimplemented(t *testing.T) {
	srv := NewAuthServer(nil)
	ctx := context.Background()

	_, err := srv.Register(ctx, &authv1.RegisterRequest{Email: "user@example.com", Password: testPassword})
	requireCode(t, err, codes.Unimplemented)
	_, err = srv.Login(ctx, &authv1.LoginRequest{Email: "user@example.com", Password: testPassword})
	requireCode(t, err, codes.Unimplemented)
	_, err = srv.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: "u1", Factor: "EMAIL", Otp: "1"})
	requireCode(t, err, codes.Unimplemented)
	_, err = srv.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: "x"})
	requireCode(t, err, codes.Unimplemented)
	_, err = srv.Logout(ctx, &authv1.Empty{})
	requireCode(t, err, codes.Unimplemented)
}

func TestArgumentValidation(t *testing.T) {
	srv := NewAuthServer(newAuthService(t))
	ctx := context.Background()

	_, err := srv.StartSignup(ctx, &authv1.StartSignupRequest{})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: "u1", Factor: "PIGEON", Otp: "123456"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.VerifySignup(ctx, &authv1.VerifyOTPRequest{UserID: "u1", Factor: "SMS"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.ResendOTP(ctx, &authv1.ResendOTPRequest{UserID: "u1", Factor: "SMS", Context: "CHECKOUT"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.ChangeFactor(ctx, &authv1.ChangeFactorRequest{Factor: "SMS", Context: "LOGIN"})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.BeginPasswordReset(ctx, &authv1.BeginPasswordResetRequest{})
	requireCode(t, err, codes.InvalidArgument)
	_, err = srv.Register(ctx, &authv1.RegisterRequest{Email: "bad", Password: testPassword})
	requireCode(t, err, codes.InvalidArgument)
}

func TestLoginFlow(t *testing.T) {
	srv := NewAuthServer(newAuthService(t))
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"x-forwarded-for": "203.0.113.7",
		"x-user-agent":    "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0.0.0 Safari/537.36",
	}))

	reg, err := srv.Register(ctx, &authv1.RegisterRequest{Email: "alice@example.com", Password: testPassword, Phone: "919876543210"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = srv.Register(ctx, &authv1.RegisterRequest{Email: "alice@example.com", Password: testPassword})
	requireCode(t, err, codes.AlreadyExists)

	_, err = srv.Login(ctx, &authv1.LoginRequest{Email: "alice@example.com", Password: "Wrong-Horse-99"})
	requireCode(t, err, codes.Unauthenticated)

	step, err := srv.Login(ctx, &authv1.LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if step.UserID != reg.UserID || step.NextStep != "EMAIL_REQUIRED" || step.ChallengeID == "" || step.ExpiresAt == nil {
		t.Fatalf("Login step = %+v", step)
	}
	if step.DevOtp != emailCode {
		t.Errorf("dev otp = %q, want %q", step.DevOtp, emailCode)
	}

	_, err = srv.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: reg.UserID, Factor: "EMAIL", Otp: "000000"})
	requireCode(t, err, codes.InvalidArgument)

	res, err := srv.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: reg.UserID, Factor: "EMAIL", Otp: emailCode})
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if res.Step.NextStep != "COMPLETE" || res.Tokens == nil || res.Tokens.SessionID == "" {
		t.Fatalf("VerifyLogin = %+v", res)
	}

	_, err = srv.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: reg.UserID, Factor: "EMAIL", Otp: emailCode})
	requireCode(t, err, codes.FailedPrecondition)

	pair, err := srv.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: res.Tokens.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.SessionID != res.Tokens.SessionID {
		t.Errorf("refresh session = %q, want %q", pair.SessionID, res.Tokens.SessionID)
	}
	_, err = srv.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: res.Tokens.RefreshToken})
	requireCode(t, err, codes.Unauthenticated)

	_, err = srv.Logout(ctx, &authv1.Empty{})
	requireCode(t, err, codes.Unauthenticated)
	if _, err := srv.Logout(interceptors.WithIdentity(ctx, reg.UserID, pair.SessionID), &authv1.Empty{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err = srv.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: pair.RefreshToken})
	requireCode(t, err, codes.Unauthenticated)
}

func TestBeginPasswordReset_HidesAccountExistence(t *testing.T) {
	srv := NewAuthServer(newAuthService(t))
	ctx := context.Background()
	if _, err := srv.Register(ctx, &authv1.RegisterRequest{Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	known, err := srv.BeginPasswordReset(ctx, &authv1.BeginPasswordResetRequest{Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("BeginPasswordReset: %v", err)
	}
	unknown, err := srv.BeginPasswordReset(ctx, &authv1.BeginPasswordResetRequest{Email: "nobody@example.com"})
	if err != nil {
		t.Fatalf("BeginPasswordReset unknown: %v", err)
	}
	if known.NextStep != unknown.NextStep || known.ChallengeID != "" || known.UserID != "" {
		t.Errorf("responses differ beyond the dev code: %+v vs %+v", known, unknown)
	}
}

func TestAuthErrToStatus(t *testing.T) {
	testCases := []struct {
		err  error
		want codes.Code
	}{
		{service.ErrEmailAlreadyRegistered, codes.AlreadyExists},
		{fmt.Errorf("%w: password too short", service.ErrInvalidInput), codes.InvalidArgument},
		{apperr.E(apperr.AttemptsExceeded, "test"), codes.ResourceExhausted},
		{apperr.E(apperr.SequenceViolation, "test"), codes.FailedPrecondition},
		{apperr.E(apperr.SessionNotFound, "test"), codes.NotFound},
		{fmt.Errorf("disk on fire"), codes.Internal},
	}
	for _, tc := range testCases {
		requireCode(t, authErrToStatus(tc.err), tc.want)
	}
}
