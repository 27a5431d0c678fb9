package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/internal/platform/apperr"
	"authgate/internal/session/domain"
)

const sessionColumns = `id, user_id, device_fingerprint, device_label, ip_address, access_token_hash,
	refresh_token_hash, refresh_token_version, issued_at, access_expires_at, refresh_expires_at,
	last_used_at, is_active, revoked_at, revoke_reason`

// PostgresRepository persists sessions in the sessions table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository that uses the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// WithinUser opens a transaction holding a transaction-scoped advisory lock on the user, so the
// count-evict-insert sequence of two logins for the same user never interleaves.
func (r *PostgresRepository) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx UserTx) error) error {
	const op = "session.WithinUser"
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Store(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "session:"+userID); err != nil {
		return apperr.Store(op, err)
	}
	if err := fn(ctx, pgUserTx{tx: tx}); err != nil {
		return err
	}
	return apperr.Store(op, tx.Commit(ctx))
}

type pgUserTx struct {
	tx pgx.Tx
}

func (t pgUserTx) DeactivateDevice(ctx context.Context, userID, fingerprint string, reason domain.RevokeReason, now time.Time) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE sessions SET is_active = false, revoked_at = $3, revoke_reason = $4
		 WHERE user_id = $1 AND device_fingerprint = $2 AND is_active
		RETURNING id`,
		userID, fingerprint, now, string(reason),
	)
	if err != nil {
		return nil, apperr.Store("session.DeactivateDevice", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Store("session.DeactivateDevice", err)
	}
	return ids, nil
}

func (t pgUserTx) ListLive(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	return querySessions(ctx, t.tx, "session.ListLive", `
		SELECT `+sessionColumns+`
		  FROM sessions
		 WHERE user_id = $1 AND is_active AND refresh_expires_at > $2
		 ORDER BY issued_at ASC, id ASC`,
		userID, now,
	)
}

func (t pgUserTx) Deactivate(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sessions SET is_active = false, revoked_at = $2, revoke_reason = $3
		 WHERE id = $1 AND is_active`,
		id, now, string(reason),
	)
	return apperr.Store("session.Deactivate", err)
}

func (t pgUserTx) Insert(ctx context.Context, s *domain.Session) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.UserID, s.DeviceFingerprint, s.DeviceLabel, s.IPAddress, s.AccessTokenHash,
		s.RefreshTokenHash, s.RefreshTokenVersion, s.IssuedAt, s.AccessExpiresAt, s.RefreshExpiresAt,
		s.LastUsedAt, s.IsActive, s.RevokedAt, nullIfEmpty(string(s.RevokeReason)),
	)
	return apperr.Store("session.Insert", err)
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return queryOne(ctx, r.pool, "session.GetByID", `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) FindLiveByAccessHash(ctx context.Context, accessHash string, now time.Time) (*domain.Session, error) {
	return queryOne(ctx, r.pool, "session.FindLiveByAccessHash", `
		SELECT `+sessionColumns+`
		  FROM sessions
		 WHERE access_token_hash = $1 AND is_active AND refresh_expires_at > $2
		 LIMIT 1`,
		accessHash, now,
	)
}

// Rotate is a single compare-and-set UPDATE: a refresh presenting a superseded hash matches no row.
func (r *PostgresRepository) Rotate(ctx context.Context, oldRefreshHash string, rot domain.Rotation) (*domain.Session, error) {
	return queryOne(ctx, r.pool, "session.Rotate", `
		UPDATE sessions
		   SET access_token_hash = $2,
		       refresh_token_hash = $3,
		       access_expires_at = $4,
		       refresh_expires_at = $5,
		       refresh_token_version = refresh_token_version + 1,
		       last_used_at = $6,
		       ip_address = COALESCE(NULLIF($7, ''), ip_address)
		 WHERE refresh_token_hash = $1 AND is_active AND refresh_expires_at > $6
		RETURNING `+sessionColumns,
		oldRefreshHash, rot.AccessTokenHash, rot.RefreshTokenHash, rot.AccessExpiresAt, rot.RefreshExpiresAt,
		rot.At, rot.IPAddress,
	)
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) (bool, bool, error) {
	const op = "session.Revoke"
	var wasActive bool
	// The CTE reads the pre-update state so an already revoked row is reported as found but unchanged.
	err := r.pool.QueryRow(ctx, `
		WITH prev AS (SELECT is_active FROM sessions WHERE id = $1 FOR UPDATE),
		     upd AS (
		       UPDATE sessions SET is_active = false, revoked_at = $2, revoke_reason = $3
		        WHERE id = $1 AND is_active
		       RETURNING id)
		SELECT prev.is_active FROM prev`,
		id, now, string(reason),
	).Scan(&wasActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, apperr.Store(op, err)
	}
	return true, wasActive, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) ([]string, error) {
	const op = "session.RevokeAllForUser"
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions SET is_active = false, revoked_at = $2, revoke_reason = $3
		 WHERE user_id = $1 AND is_active
		RETURNING id`,
		userID, now, string(reason),
	)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	return ids, nil
}

func (r *PostgresRepository) ListLive(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	return querySessions(ctx, r.pool, "session.ListLive", `
		SELECT `+sessionColumns+`
		  FROM sessions
		 WHERE user_id = $1 AND is_active AND refresh_expires_at > $2
		 ORDER BY last_used_at DESC, id DESC`,
		userID, now,
	)
}

// DeactivateExpired locks at most limit rows per call; SKIP LOCKED lets a second reaper instance work
// on a disjoint batch.
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = false, revoked_at = $1, revoke_reason = $2
		 WHERE id IN (
		   SELECT id FROM sessions
		    WHERE is_active AND refresh_expires_at <= $1
		    ORDER BY refresh_expires_at
		    LIMIT $3
		    FOR UPDATE SKIP LOCKED)`,
		now, string(domain.ReasonExpired), limit,
	)
	if err != nil {
		return 0, apperr.Store("session.DeactivateExpired", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		 WHERE id IN (
		   SELECT id FROM sessions
		    WHERE NOT is_active AND revoked_at < $1
		    ORDER BY revoked_at
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED)`,
		cutoff, limit,
	)
	if err != nil {
		return 0, apperr.Store("session.DeleteInactiveBefore", err)
	}
	return int(tag.RowsAffected()), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryOne(ctx context.Context, q querier, op, sql string, args ...any) (*domain.Session, error) {
	s, err := scanSession(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Store(op, err)
	}
	return s, nil
}

func querySessions(ctx context.Context, q querier, op, sql string, args ...any) ([]*domain.Session, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Store(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(op, err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s      domain.Session
		reason *string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceFingerprint, &s.DeviceLabel, &s.IPAddress, &s.AccessTokenHash,
		&s.RefreshTokenHash, &s.RefreshTokenVersion, &s.IssuedAt, &s.AccessExpiresAt, &s.RefreshExpiresAt,
		&s.LastUsedAt, &s.IsActive, &s.RevokedAt, &reason,
	); err != nil {
		return nil, err
	}
	if reason != nil {
		s.RevokeReason = domain.RevokeReason(*reason)
	}
	return &s, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*PostgresRepository)(nil)
