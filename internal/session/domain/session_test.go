package domain

import (
	"testing"
	"time"
)

func TestSession_Live(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		s    Session
		want bool
	}{
		{"active unexpired", Session{IsActive: true, RefreshExpiresAt: now.Add(time.Minute)}, true},
		{"active expired at now", Session{IsActive: true, RefreshExpiresAt: now}, false},
		{"inactive", Session{IsActive: false, RefreshExpiresAt: now.Add(time.Hour)}, false},
	}
	for _, tc := range cases {
		if got := tc.s.Live(now); got != tc.want {
			t.Errorf("%s: Live = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseRevokeReason(t *testing.T) {
	for _, s := range []string{"USER_LOGOUT", "TOKEN_REFRESH", "SECURITY_BREACH", "MAX_SESSIONS_EXCEEDED", "ADMIN_REVOKE", "NEW_LOGIN", "EXPIRED"} {
		r, err := ParseRevokeReason(s)
		if err != nil || string(r) != s {
			t.Errorf("ParseRevokeReason(%q) = %q, %v", s, r, err)
		}
	}
	if _, err := ParseRevokeReason("user_logout"); err == nil {
		t.Error("reasons are case sensitive")
	}
}
