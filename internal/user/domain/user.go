package domain

import (
	"errors"
	"strings"
	"time"
)

// User is an account in the directory. PasswordHash is produced by the configured Hasher.
type User struct {
	ID           string
	Email        string
	Phone        string // optional; required for SMS factors
	PasswordHash string
	Roles        []string
	Profile      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail trims and lower-cases an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
