package repository

import (
	"context"
	"time"

	"authgate/internal/session/domain"
)

// UserTx is the view of one user's sessions inside Repository.WithinUser. Calls for the same user
// from other WithinUser callers block until fn returns.
type UserTx interface {
	// DeactivateDevice revokes every active session of (userID, fingerprint) and returns their ids.
	DeactivateDevice(ctx context.Context, userID, fingerprint string, reason domain.RevokeReason, now time.Time) ([]string, error)
	// ListLive returns the user's active sessions with refreshExpiresAt > now, oldest issuedAt first, ties by id.
	ListLive(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	Deactivate(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) error
	Insert(ctx context.Context, s *domain.Session) error
}

// Repository defines persistence for sessions.
type Repository interface {
	// WithinUser runs fn with exclusive write access to userID's session set. The work commits only if fn
	// returns nil.
	WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx UserTx) error) error

	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// FindLiveByAccessHash returns the live session whose current access hash matches, or nil.
	FindLiveByAccessHash(ctx context.Context, accessHash string, now time.Time) (*domain.Session, error)
	// Rotate replaces the token state of the live session whose current refresh hash is oldRefreshHash and
	// bumps its version. It returns the updated session, or nil when no live session holds that hash.
	Rotate(ctx context.Context, oldRefreshHash string, r domain.Rotation) (*domain.Session, error)
	// Revoke deactivates an active session. changed is false when it was already inactive; a missing id
	// returns (false, false, nil).
	Revoke(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) (found, changed bool, err error)
	// RevokeAllForUser deactivates every active session of the user and returns their ids.
	RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) ([]string, error)
	// ListLive returns the user's live sessions, most recently used first.
	ListLive(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)

	// DeactivateExpired marks up to limit active sessions with refreshExpiresAt <= now as EXPIRED.
	DeactivateExpired(ctx context.Context, now time.Time, limit int) (int, error)
	// DeleteInactiveBefore hard-deletes up to limit inactive sessions revoked before cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
