package handler

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func pinger(err error) Pinger {
	return PingFunc(func(context.Context) error { return err })
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name    string
		pingers map[string]Pinger
		policy  PolicyChecker
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no dependencies", nil, nil, healthpb.HealthCheckResponse_SERVING},
		{"all healthy", map[string]Pinger{"postgres": pinger(nil), "redis": pinger(nil)}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING},
		{"nil pinger skipped", map[string]Pinger{"redis": nil}, nil, healthpb.HealthCheckResponse_SERVING},
		{"database down", map[string]Pinger{"postgres": pinger(errors.New("connection refused"))}, nil, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy broken", nil, &mockPolicyChecker{healthErr: errors.New("undefined rule")}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(tc.pingers, tc.policy, nil, nil)
			resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if resp.GetStatus() != tc.want {
				t.Errorf("status = %v, want %v", resp.GetStatus(), tc.want)
			}
		})
	}
}

func TestCheck_NamedService(t *testing.T) {
	srv := NewServer(nil, nil, []string{"authgate.auth.v1.AuthService"}, nil)

	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "authgate.auth.v1.AuthService"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}

	_, err = srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown service code = %v, want %v", status.Code(err), codes.NotFound)
	}
}
