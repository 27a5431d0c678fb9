package domain

import (
	"fmt"
	"time"
)

// RevokeReason records why a session stopped being active.
type RevokeReason string

const (
	ReasonUserLogout          RevokeReason = "USER_LOGOUT"
	ReasonTokenRefresh        RevokeReason = "TOKEN_REFRESH"
	ReasonSecurityBreach      RevokeReason = "SECURITY_BREACH"
	ReasonMaxSessionsExceeded RevokeReason = "MAX_SESSIONS_EXCEEDED"
	ReasonAdminRevoke         RevokeReason = "ADMIN_REVOKE"
	ReasonNewLogin            RevokeReason = "NEW_LOGIN"
	// ReasonExpired is stamped by the reaper, never by a caller.
	ReasonExpired RevokeReason = "EXPIRED"
)

// ParseRevokeReason converts a wire value to a RevokeReason.
func ParseRevokeReason(s string) (RevokeReason, error) {
	switch r := RevokeReason(s); r {
	case ReasonUserLogout, ReasonTokenRefresh, ReasonSecurityBreach, ReasonMaxSessionsExceeded,
		ReasonAdminRevoke, ReasonNewLogin, ReasonExpired:
		return r, nil
	}
	return "", fmt.Errorf("unknown revoke reason %q", s)
}

// Session represents one authenticated device binding. Token values are never stored, only their hashes.
type Session struct {
	ID                  string
	UserID              string
	DeviceFingerprint   string
	DeviceLabel         string
	IPAddress           string
	AccessTokenHash     string
	RefreshTokenHash    string
	RefreshTokenVersion int
	IssuedAt            time.Time
	AccessExpiresAt     time.Time
	RefreshExpiresAt    time.Time
	LastUsedAt          time.Time
	IsActive            bool
	RevokedAt           *time.Time // nil while active
	RevokeReason        RevokeReason
}

// Live reports whether the session counts against the user's concurrent-session limit.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.RefreshExpiresAt.After(now)
}

// Rotation is the new token state written by a refresh.
type Rotation struct {
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	IPAddress        string
	At               time.Time
}
