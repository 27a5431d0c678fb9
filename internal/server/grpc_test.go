package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	authv1 "authgate/api/auth/v1"
	devv1 "authgate/api/dev/v1"
	sessionv1 "authgate/api/session/v1"
	"authgate/internal/devotp"
	devotphandler "authgate/internal/devotp/handler"
	identityservice "authgate/internal/identity/service"
	"authgate/internal/mfa"
	"authgate/internal/notify"
	"authgate/internal/platform/clock"
	"authgate/internal/security"
	sessionrepo "authgate/internal/session/repository"
	sessionservice "authgate/internal/session/service"
	"authgate/internal/user"
	userrepo "authgate/internal/user/repository"
	vrepo "authgate/internal/verification/repository"
	vservice "authgate/internal/verification/service"
)

const testPassword = "Correct-Horse-9"

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_DevServiceNotRegisteredWhenNil(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})

	want := []string{authv1.ServiceName, sessionv1.ServiceName, healthpb.Health_ServiceDesc.ServiceName}
	if len(mockReg.services) != len(want) {
		t.Fatalf("registered %v, want %v", mockReg.services, want)
	}
	for i := range want {
		if mockReg.services[i] != want[i] {
			t.Errorf("service[%d] = %q, want %q", i, mockReg.services[i], want[i])
		}
	}
}

func TestRegisterServices_DevServiceRegisteredWhenSet(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{DevOTPHandler: devotphandler.NewServer(devotp.NewMemoryStore(nil))})

	found := false
	for _, s := range mockReg.services {
		if s == devv1.ServiceName {
			found = true
		}
	}
	if !found {
		t.Errorf("DevService not registered: %v", mockReg.services)
	}
}

func TestIsPublic(t *testing.T) {
	if !IsPublic(authv1.AuthService_Login_FullMethod) {
		t.Error("Login should be public")
	}
	if IsPublic(authv1.AuthService_Logout_FullMethod) {
		t.Error("Logout should require a session")
	}
	if IsPublic(sessionv1.SessionService_ListSessions_FullMethod) {
		t.Error("ListSessions should require a session")
	}
}

type stack struct {
	auth    *authv1.AuthServiceClient
	session *sessionv1.SessionServiceClient
	dev     *devv1.DevServiceClient
	health  healthpb.HealthClient
}

func startServer(t *testing.T) stack {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	users := userrepo.NewMemoryRepository()
	otpStore := devotp.NewMemoryStore(clk)
	tokens, err := security.NewTestTokenCodec(clk)
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	engine := vservice.NewEngine(vservice.DefaultConfig(), vservice.Deps{
		Repo:       vrepo.NewMemoryRepository(),
		Hasher:     security.DigestHasher{},
		SMSCodes:   mfa.FixedGenerator{Code: "123456"},
		EmailCodes: mfa.FixedGenerator{Code: "654321"},
		Notifier:   notify.NewDevNotifier(otpStore),
		Recipients: user.NewDirectory(users),
		Clock:      clk,
	})
	mgr := sessionservice.NewManager(sessionservice.Config{MaxConcurrentSessions: 3}, sessionservice.Deps{
		Repo:  sessionrepo.NewMemoryRepository(),
		Clock: clk,
	})
	auth := identityservice.NewAuthService(identityservice.Config{
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		OTPReturnToClient: true,
	}, identityservice.Deps{
		Users:        users,
		Passwords:    security.DigestHasher{},
		Verification: engine,
		Tokens:       tokens,
		Sessions:     mgr,
		DevOTP:       otpStore,
		Clock:        clk,
	})

	s := NewServer(Deps{
		Auth:                  auth,
		MaxConcurrentSessions: mgr.MaxConcurrentSessions(),
		DevOTPHandler:         devotphandler.NewServer(otpStore),
	})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return stack{
		auth:    authv1.NewAuthServiceClient(conn),
		session: sessionv1.NewSessionServiceClient(conn),
		dev:     devv1.NewDevServiceClient(conn),
		health:  healthpb.NewHealthClient(conn),
	}
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("code = %v, want %v (err %v)", got, want, err)
	}
}

func TestServer_EndToEnd(t *testing.T) {
	st := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hc, err := st.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %v, want SERVING", hc.GetStatus())
	}

	reg, err := st.auth.Register(ctx, &authv1.RegisterRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	step, err := st.auth.Login(ctx, &authv1.LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	dev, err := st.dev.GetOTP(ctx, &devv1.GetOTPRequest{UserID: reg.UserID, Factor: "EMAIL", Context: "LOGIN"})
	if err != nil {
		t.Fatalf("GetOTP: %v", err)
	}
	if dev.Otp != step.DevOtp {
		t.Errorf("dev otp = %q, login step carried %q", dev.Otp, step.DevOtp)
	}

	res, err := st.auth.VerifyLogin(ctx, &authv1.VerifyOTPRequest{UserID: reg.UserID, Factor: "EMAIL", Otp: dev.Otp})
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if res.Tokens == nil {
		t.Fatalf("VerifyLogin returned no tokens: %+v", res)
	}

	_, err = st.session.ListSessions(ctx, &sessionv1.Empty{})
	wantCode(t, err, codes.Unauthenticated)

	authed := withBearer(ctx, res.Tokens.AccessToken)
	list, err := st.session.ListSessions(authed, &sessionv1.Empty{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list.Sessions) != 1 || !list.Sessions[0].Current || list.MaxConcurrentSessions != 3 {
		t.Errorf("ListSessions = %+v", list)
	}

	if _, err := st.auth.Logout(authed, &authv1.Empty{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err = st.session.ListSessions(authed, &sessionv1.Empty{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = st.auth.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: res.Tokens.RefreshToken})
	wantCode(t, err, codes.Unauthenticated)
}
