package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"authgate/internal/session/domain"
)

// MemoryRepository keeps sessions in memory. Writers for one user are serialized by a per-user mutex,
// the whole table by mu.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*domain.Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:  make(map[string]*domain.Session),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) userLock(userID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

// WithinUser buffers fn's writes and applies them only when fn succeeds.
func (r *MemoryRepository) WithinUser(ctx context.Context, userID string, fn func(ctx context.Context, tx UserTx) error) error {
	l := r.userLock(userID)
	l.Lock()
	defer l.Unlock()

	tx := &memoryTx{repo: r, deactivated: make(map[string]deactivation)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, d := range tx.deactivated {
		if row, ok := r.rows[id]; ok && row.IsActive {
			revoke(row, d.reason, d.at)
		}
	}
	for _, s := range tx.inserted {
		cp := *s
		r.rows[s.ID] = &cp
	}
	return nil
}

type deactivation struct {
	reason domain.RevokeReason
	at     time.Time
}

type memoryTx struct {
	repo        *MemoryRepository
	deactivated map[string]deactivation
	inserted    []*domain.Session
}

func (tx *memoryTx) active(id string, row *domain.Session) bool {
	_, gone := tx.deactivated[id]
	return row.IsActive && !gone
}

func (tx *memoryTx) DeactivateDevice(_ context.Context, userID, fingerprint string, reason domain.RevokeReason, now time.Time) ([]string, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	var ids []string
	for id, row := range tx.repo.rows {
		if row.UserID == userID && row.DeviceFingerprint == fingerprint && tx.active(id, row) {
			tx.deactivated[id] = deactivation{reason: reason, at: now}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (tx *memoryTx) ListLive(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	tx.repo.mu.Lock()
	var out []*domain.Session
	for id, row := range tx.repo.rows {
		if row.UserID == userID && tx.active(id, row) && row.RefreshExpiresAt.After(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	tx.repo.mu.Unlock()
	for _, s := range tx.inserted {
		if s.UserID == userID && tx.active(s.ID, s) && s.RefreshExpiresAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortByIssued(out)
	return out, nil
}

func (tx *memoryTx) Deactivate(_ context.Context, id string, reason domain.RevokeReason, now time.Time) error {
	tx.deactivated[id] = deactivation{reason: reason, at: now}
	return nil
}

func (tx *memoryTx) Insert(_ context.Context, s *domain.Session) error {
	cp := *s
	tx.inserted = append(tx.inserted, &cp)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) FindLiveByAccessHash(_ context.Context, accessHash string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.AccessTokenHash == accessHash && row.Live(now) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Rotate(_ context.Context, oldRefreshHash string, rot domain.Rotation) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.RefreshTokenHash != oldRefreshHash || !row.Live(rot.At) {
			continue
		}
		row.AccessTokenHash = rot.AccessTokenHash
		row.RefreshTokenHash = rot.RefreshTokenHash
		row.AccessExpiresAt = rot.AccessExpiresAt
		row.RefreshExpiresAt = rot.RefreshExpiresAt
		row.RefreshTokenVersion++
		row.LastUsedAt = rot.At
		if rot.IPAddress != "" {
			row.IPAddress = rot.IPAddress
		}
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id string, reason domain.RevokeReason, now time.Time) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, false, nil
	}
	if !row.IsActive {
		return true, false, nil
	}
	revoke(row, reason, now)
	return true, true, nil
}

func (r *MemoryRepository) RevokeAllForUser(_ context.Context, userID string, reason domain.RevokeReason, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, row := range r.rows {
		if row.UserID == userID && row.IsActive {
			revoke(row, reason, now)
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) ListLive(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, row := range r.rows {
		if row.UserID == userID && row.Live(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) DeactivateExpired(_ context.Context, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.Session
	for _, row := range r.rows {
		if row.IsActive && !row.RefreshExpiresAt.After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RefreshExpiresAt.Before(due[j].RefreshExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, row := range due {
		revoke(row, domain.ReasonExpired, now)
	}
	return len(due), nil
}

func (r *MemoryRepository) DeleteInactiveBefore(_ context.Context, cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, row := range r.rows {
		if limit > 0 && n >= limit {
			break
		}
		if !row.IsActive && row.RevokedAt != nil && row.RevokedAt.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows, active or not.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func revoke(row *domain.Session, reason domain.RevokeReason, at time.Time) {
	row.IsActive = false
	t := at
	row.RevokedAt = &t
	row.RevokeReason = reason
}

func sortByIssued(s []*domain.Session) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].IssuedAt.Equal(s[j].IssuedAt) {
			return s[i].IssuedAt.Before(s[j].IssuedAt)
		}
		return s[i].ID < s[j].ID
	})
}

var _ Repository = (*MemoryRepository)(nil)
