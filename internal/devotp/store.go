// Package devotp provides an in-memory store for plaintext OTPs keyed by (user, factor, context),
// used only when dev OTP mode is enabled (DevService GetOTP).
package devotp

import (
	"context"
	"sync"
	"time"

	"authgate/internal/platform/clock"
)

// Key identifies one outstanding challenge.
type Key struct {
	UserID  string
	Factor  string
	Context string
}

// Store holds plain OTPs for dev-only retrieval. Not used in production.
type Store interface {
	// Put stores otp for key until expiresAt, replacing any earlier code for the same key.
	Put(ctx context.Context, key Key, otp string, expiresAt time.Time)
	// Get returns the otp for key if present and not expired. Returns ok false if missing or expired.
	Get(ctx context.Context, key Key) (otp string, ok bool)
}

type entry struct {
	otp       string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	m     map[Key]entry
	clock clock.Clock
}

// NewMemoryStore returns a new in-memory dev OTP store. clk may be nil.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		m:     make(map[Key]entry),
		clock: clock.OrSystem(clk),
	}
}

// Put stores otp for key until expiresAt.
func (s *MemoryStore) Put(ctx context.Context, key Key, otp string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = entry{otp: otp, expiresAt: expiresAt}
}

// Get returns the otp for key if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, key Key) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.clock.Now()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return "", false
	}
	return e.otp, true
}
