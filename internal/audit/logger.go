package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authgate/internal/audit/domain"
	auditrepo "authgate/internal/audit/repository"
	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
)

// Resources.
const (
	ResourceSession      = "session"
	ResourceVerification = "verification"
	ResourceAuth         = "auth"
)

// Actions written by the session manager, the verification engine and the auth service.
const (
	ActionSessionCreated    = "session_created"
	ActionSessionReplaced   = "session_replaced"
	ActionSessionEvicted    = "session_evicted"
	ActionSessionRefreshed  = "session_refreshed"
	ActionSessionRevoked    = "session_revoked"
	ActionChallengeIssued   = "challenge_issued"
	ActionChallengeVerified = "challenge_verified"
	ActionChallengeFailed   = "challenge_failed"
	ActionLoginFailure      = "login_failure"
	ActionPasswordReset     = "password_reset"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, string, string) {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l AuditLogger) AuditLogger {
	if l == nil {
		return Nop{}
	}
	return l
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	clock       clock.Clock
	log         *zap.Logger
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, clk clock.Clock, l *zap.Logger) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, clock: clock.OrSystem(clk), log: logger.WithComponent(l, "audit")}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.clock.Now(),
	}
	// Detach from request cancellation so an aborted RPC still leaves its trail.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.repo.Create(writeCtx, entry); err != nil {
		l.log.Warn("failed to log event", zap.String("action", action), zap.String("resource", resource), zap.Error(err))
	}
}
