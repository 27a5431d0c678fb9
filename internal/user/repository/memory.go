package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"authgate/internal/user/domain"
)

// MemoryRepository keeps users in memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User), byEmail: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[r.byEmail[domain.NormalizeEmail(email)]]), nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.NormalizeEmail(u.Email)
	if _, ok := r.byEmail[key]; ok {
		return ErrEmailTaken
	}
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	r.byID[u.ID] = clone(u)
	r.byEmail[key] = u.ID
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	return nil
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}

var _ Repository = (*MemoryRepository)(nil)
