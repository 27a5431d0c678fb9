package repository

import (
	"context"
	"errors"
	"time"

	"authgate/internal/user/domain"
)

// ErrEmailTaken is returned by Create when another user already has the (case-insensitive) email.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, at time.Time) error
}
