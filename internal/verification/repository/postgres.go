package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/internal/platform/apperr"
	"authgate/internal/verification/domain"
)

const verificationColumns = `id, user_id, factor, context, otp_hash, expires_at, verified, verified_at,
	attempt_count, resend_count, last_resend, created_at`

// PostgresRepository persists verification rows in the verifications table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a verification repository that uses the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Replace runs invalidate + insert in one transaction. The advisory lock on the key keeps two
// concurrent issues from both leaving an active row behind.
func (r *PostgresRepository) Replace(ctx context.Context, v *domain.Verification, now time.Time) error {
	const op = "verification.Replace"
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Store(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, v.Key().String()); err != nil {
		return apperr.Store(op, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE verifications SET expires_at = $4
		 WHERE user_id = $1 AND context = $2 AND factor = $3
		   AND verified = false AND expires_at > $5`,
		v.UserID, string(v.Context), string(v.Factor), now.Add(-InvalidationBackdate), now,
	); err != nil {
		return apperr.Store(op, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.UserID, string(v.Factor), string(v.Context), v.OTPHash, v.ExpiresAt, v.Verified, v.VerifiedAt,
		v.AttemptCount, v.ResendCount, v.LastResend, v.CreatedAt,
	); err != nil {
		return apperr.Store(op, err)
	}
	return apperr.Store(op, tx.Commit(ctx))
}

func (r *PostgresRepository) InvalidateContext(ctx context.Context, userID string, c domain.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE verifications SET expires_at = $3
		 WHERE user_id = $1 AND context = $2 AND verified = false AND expires_at > $4`,
		userID, string(c), now.Add(-InvalidationBackdate), now,
	)
	if err != nil {
		return 0, apperr.Store("verification.InvalidateContext", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) ConsumeContext(ctx context.Context, userID string, c domain.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE verifications SET expires_at = $3
		 WHERE user_id = $1 AND context = $2 AND verified = true AND expires_at > $4`,
		userID, string(c), now.Add(-InvalidationBackdate), now,
	)
	if err != nil {
		return 0, apperr.Store("verification.ConsumeContext", err)
	}
	return int(tag.RowsAffected()), nil
}

// Current returns the newest unexpired row for key, or nil if none.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Current(ctx context.Context, key domain.Key, now time.Time) (*domain.Verification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+verificationColumns+`
		  FROM verifications
		 WHERE user_id = $1 AND factor = $2 AND context = $3 AND expires_at > $4
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		key.UserID, string(key.Factor), string(key.Context), now,
	)
	v, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Store("verification.Current", err)
	}
	return v, nil
}

// IncrementAttempts is a single conditional UPDATE so parallel verifies cannot both pass the ceiling.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string, max int, now time.Time) (int, bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE verifications SET attempt_count = attempt_count + 1
		 WHERE id = $1 AND verified = false AND expires_at > $3 AND attempt_count < $2
		RETURNING attempt_count`,
		id, max, now,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, apperr.Store("verification.IncrementAttempts", err)
	}
	return count, true, nil
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE verifications SET verified = true, verified_at = $2
		 WHERE id = $1 AND verified = false AND expires_at > $2`,
		id, at,
	)
	if err != nil {
		return false, apperr.Store("verification.MarkVerified", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimResend checks the resend limit and cooldown in the same UPDATE that records the resend, so
// parallel resends of one challenge cannot both pass.
func (r *PostgresRepository) ClaimResend(ctx context.Context, id string, max int, cooldown time.Duration, now time.Time) (int, bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE verifications SET resend_count = resend_count + 1, last_resend = $3
		 WHERE id = $1 AND verified = false AND expires_at > $3 AND resend_count < $2
		   AND (last_resend IS NULL OR last_resend <= $4)
		RETURNING resend_count`,
		id, max, now, now.Add(-cooldown),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, apperr.Store("verification.ClaimResend", err)
	}
	return count, true, nil
}

func (r *PostgresRepository) IsVerified(ctx context.Context, key domain.Key) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM verifications
			 WHERE user_id = $1 AND factor = $2 AND context = $3 AND verified = true)`,
		key.UserID, string(key.Factor), string(key.Context),
	).Scan(&ok)
	if err != nil {
		return false, apperr.Store("verification.IsVerified", err)
	}
	return ok, nil
}

func scanVerification(row pgx.Row) (*domain.Verification, error) {
	var (
		v            domain.Verification
		factor, flow string
	)
	err := row.Scan(&v.ID, &v.UserID, &factor, &flow, &v.OTPHash, &v.ExpiresAt, &v.Verified, &v.VerifiedAt,
		&v.AttemptCount, &v.ResendCount, &v.LastResend, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Factor = domain.Factor(factor)
	v.Context = domain.Context(flow)
	return &v, nil
}

var _ Repository = (*PostgresRepository)(nil)
