// Package user resolves contact addresses for users of the directory.
package user

import (
	"context"
	"errors"
	"fmt"

	"authgate/internal/user/repository"
	vdomain "authgate/internal/verification/domain"
)

// ErrNoAddress is returned when the user has no address for the requested channel.
var ErrNoAddress = errors.New("user has no address for this channel")

// Directory adapts the user repository to the recipient lookups of the verification engine and the
// session manager.
type Directory struct {
	repo repository.Repository
}

// NewDirectory returns a Directory over repo.
func NewDirectory(repo repository.Repository) *Directory {
	return &Directory{repo: repo}
}

// Recipient returns the phone number for SMS and the email address for EMAIL.
func (d *Directory) Recipient(ctx context.Context, userID string, f vdomain.Factor) (string, error) {
	u, err := d.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("user %s not found", userID)
	}
	addr := u.Email
	if f == vdomain.FactorSMS {
		addr = u.Phone
	}
	if addr == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, f)
	}
	return addr, nil
}

// Email returns the user's email address.
func (d *Directory) Email(ctx context.Context, userID string) (string, error) {
	return d.Recipient(ctx, userID, vdomain.FactorEmail)
}
