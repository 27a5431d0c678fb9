package repository

import (
	"context"
	"time"

	"authgate/internal/verification/domain"
)

// InvalidationBackdate is how far into the past an invalidated row's expiry is moved.
const InvalidationBackdate = time.Minute

// Repository defines persistence for verification challenges.
// Failures of the backing store are returned as apperr StoreUnavailable.
type Repository interface {
	// Replace invalidates every active row for v's key and inserts v, atomically.
	Replace(ctx context.Context, v *domain.Verification, now time.Time) error
	// InvalidateContext invalidates every active row for (userID, context) of any factor.
	InvalidateContext(ctx context.Context, userID string, c domain.Context, now time.Time) (int, error)
	// ConsumeContext expires the unexpired verified rows of (userID, context), ending the current round.
	// IsVerified is unaffected.
	ConsumeContext(ctx context.Context, userID string, c domain.Context, now time.Time) (int, error)
	// Current returns the newest row for key whose expiry is after now (verified or not), or nil if none.
	Current(ctx context.Context, key domain.Key, now time.Time) (*domain.Verification, error)
	// IncrementAttempts adds one to attempt_count of an unverified, unexpired row while it is below max.
	// ok is false when the row is verified, missing, expired or already at max.
	IncrementAttempts(ctx context.Context, id string, max int, now time.Time) (count int, ok bool, err error)
	// MarkVerified sets verified on an unverified row that has not expired at at.
	// Returns false if it was already verified or has been superseded.
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	// ClaimResend records a resend on an active row, only while resend_count is below max and the last
	// resend is at least cooldown before now. Returns the new count; ok is false when nothing was claimed.
	ClaimResend(ctx context.Context, id string, max int, cooldown time.Duration, now time.Time) (count int, ok bool, err error)
	// IsVerified reports whether any verified row exists for key.
	IsVerified(ctx context.Context, key domain.Key) (bool, error)
}
