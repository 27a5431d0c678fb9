package repository

import (
	"context"
	"sync"
	"time"

	"authgate/internal/verification/domain"
)

// MemoryRepository keeps verification rows in memory. Used by tests and when no DATABASE_URL is set.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []*domain.Verification // insertion order
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Replace(_ context.Context, v *domain.Verification, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked(v.UserID, v.Context, v.Factor, now)
	cp := *v
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryRepository) InvalidateContext(_ context.Context, userID string, c domain.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalidateLocked(userID, c, "", now), nil
}

func (r *MemoryRepository) ConsumeContext(_ context.Context, userID string, c domain.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.UserID == userID && row.Context == c && row.Verified && row.ExpiresAt.After(now) {
			row.ExpiresAt = now.Add(-InvalidationBackdate)
			n++
		}
	}
	return n, nil
}

// invalidateLocked expires active rows; an empty factor matches both.
func (r *MemoryRepository) invalidateLocked(userID string, c domain.Context, f domain.Factor, now time.Time) int {
	n := 0
	for _, row := range r.rows {
		if row.UserID != userID || row.Context != c || (f != "" && row.Factor != f) {
			continue
		}
		if row.IsActive(now) {
			row.ExpiresAt = now.Add(-InvalidationBackdate)
			n++
		}
	}
	return n
}

func (r *MemoryRepository) Current(_ context.Context, key domain.Key, now time.Time) (*domain.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if row.Key() == key && row.ExpiresAt.After(now) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) IncrementAttempts(_ context.Context, id string, max int, now time.Time) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findLocked(id)
	if row == nil || !row.IsActive(now) || row.AttemptCount >= max {
		return 0, false, nil
	}
	row.AttemptCount++
	return row.AttemptCount, true, nil
}

func (r *MemoryRepository) MarkVerified(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findLocked(id)
	if row == nil || !row.IsActive(at) {
		return false, nil
	}
	row.Verified = true
	row.VerifiedAt = &at
	return true, nil
}

func (r *MemoryRepository) ClaimResend(_ context.Context, id string, max int, cooldown time.Duration, now time.Time) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.findLocked(id)
	if row == nil || !row.IsActive(now) || row.ResendCount >= max {
		return 0, false, nil
	}
	if row.LastResend != nil && now.Before(row.LastResend.Add(cooldown)) {
		return 0, false, nil
	}
	row.ResendCount++
	at := now
	row.LastResend = &at
	return row.ResendCount, true, nil
}

func (r *MemoryRepository) IsVerified(_ context.Context, key domain.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Key() == key && row.Verified {
			return true, nil
		}
	}
	return false, nil
}

// All returns copies of every row for key, oldest first.
func (r *MemoryRepository) All(key domain.Key) []domain.Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Verification
	for _, row := range r.rows {
		if row.Key() == key {
			out = append(out, *row)
		}
	}
	return out
}

func (r *MemoryRepository) findLocked(id string) *domain.Verification {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
