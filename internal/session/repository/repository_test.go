package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"authgate/internal/db/dbtest"
	"authgate/internal/session/domain"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newSession(id, userID, fp string, issued time.Time) *domain.Session {
	return &domain.Session{
		ID:                  id,
		UserID:              userID,
		DeviceFingerprint:   fp,
		DeviceLabel:         "Chrome on Linux",
		IPAddress:           "10.0.0.1",
		AccessTokenHash:     "access-" + id,
		RefreshTokenHash:    "refresh-" + id,
		RefreshTokenVersion: 1,
		IssuedAt:            issued,
		AccessExpiresAt:     issued.Add(15 * time.Minute),
		RefreshExpiresAt:    issued.Add(24 * time.Hour),
		LastUsedAt:          issued,
		IsActive:            true,
	}
}

func insert(t *testing.T, repo Repository, sessions ...*domain.Session) {
	t.Helper()
	for _, s := range sessions {
		err := repo.WithinUser(context.Background(), s.UserID, func(ctx context.Context, tx UserTx) error {
			return tx.Insert(ctx, s)
		})
		if err != nil {
			t.Fatalf("insert %s: %v", s.ID, err)
		}
	}
}

func ids(sessions []*domain.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

func TestPostgresRepository(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository { return NewPostgresRepository(dbtest.Pool(t)) })
}

func runRepositoryTests(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("within user lists live sessions by issuance", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo,
			newSession("01B", "u1", "fp-b", t0.Add(time.Minute)),
			newSession("01A", "u1", "fp-a", t0),
			newSession("01C", "u1", "fp-c", t0.Add(time.Minute)),
			newSession("02A", "u2", "fp-a", t0),
		)
		err := repo.WithinUser(ctx, "u1", func(ctx context.Context, tx UserTx) error {
			live, err := tx.ListLive(ctx, "u1", t0.Add(time.Hour))
			if err != nil {
				return err
			}
			if got := fmt.Sprint(ids(live)); got != "[01A 01B 01C]" {
				t.Errorf("ListLive = %s, want issuance order with id tie-break", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithinUser: %v", err)
		}
	})

	t.Run("a failing fn commits nothing", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo, newSession("01A", "u1", "fp-a", t0))
		boom := errors.New("boom")
		err := repo.WithinUser(ctx, "u1", func(ctx context.Context, tx UserTx) error {
			if _, err := tx.DeactivateDevice(ctx, "u1", "fp-a", domain.ReasonNewLogin, t0); err != nil {
				return err
			}
			if err := tx.Insert(ctx, newSession("01B", "u1", "fp-a", t0)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithinUser err = %v, want boom", err)
		}
		s, _ := repo.GetByID(ctx, "01A")
		if s == nil || !s.IsActive {
			t.Errorf("01A should still be active, got %+v", s)
		}
		if s, _ := repo.GetByID(ctx, "01B"); s != nil {
			t.Error("01B should not have been inserted")
		}
	})

	t.Run("deactivate device and evict inside one unit", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo,
			newSession("01A", "u1", "fp-a", t0),
			newSession("01B", "u1", "fp-b", t0.Add(time.Second)),
		)
		now := t0.Add(time.Minute)
		err := repo.WithinUser(ctx, "u1", func(ctx context.Context, tx UserTx) error {
			replaced, err := tx.DeactivateDevice(ctx, "u1", "fp-b", domain.ReasonNewLogin, now)
			if err != nil {
				return err
			}
			if len(replaced) != 1 || replaced[0] != "01B" {
				t.Errorf("DeactivateDevice = %v, want [01B]", replaced)
			}
			live, err := tx.ListLive(ctx, "u1", now)
			if err != nil {
				return err
			}
			if len(live) != 1 || live[0].ID != "01A" {
				t.Errorf("ListLive after device deactivation = %v", ids(live))
			}
			return tx.Deactivate(ctx, "01A", domain.ReasonMaxSessionsExceeded, now)
		})
		if err != nil {
			t.Fatalf("WithinUser: %v", err)
		}
		a, _ := repo.GetByID(ctx, "01A")
		b, _ := repo.GetByID(ctx, "01B")
		if a.IsActive || a.RevokeReason != domain.ReasonMaxSessionsExceeded || a.RevokedAt == nil || !a.RevokedAt.Equal(now) {
			t.Errorf("01A = %+v, want evicted", a)
		}
		if b.IsActive || b.RevokeReason != domain.ReasonNewLogin {
			t.Errorf("01B = %+v, want replaced", b)
		}
	})

	t.Run("rotate is compare and set", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo, newSession("01A", "u1", "fp-a", t0))
		rot := domain.Rotation{
			AccessTokenHash:  "access-2",
			RefreshTokenHash: "refresh-2",
			AccessExpiresAt:  t0.Add(time.Hour),
			RefreshExpiresAt: t0.Add(48 * time.Hour),
			IPAddress:        "10.0.0.9",
			At:               t0.Add(30 * time.Minute),
		}
		s, err := repo.Rotate(ctx, "refresh-01A", rot)
		if err != nil || s == nil {
			t.Fatalf("Rotate = %v, %v", s, err)
		}
		if s.ID != "01A" || s.RefreshTokenVersion != 2 || s.RefreshTokenHash != "refresh-2" || s.IPAddress != "10.0.0.9" {
			t.Errorf("rotated session = %+v", s)
		}
		if !s.LastUsedAt.Equal(rot.At) || !s.RefreshExpiresAt.Equal(rot.RefreshExpiresAt) {
			t.Errorf("rotated times = %v / %v", s.LastUsedAt, s.RefreshExpiresAt)
		}
		if again, err := repo.Rotate(ctx, "refresh-01A", rot); err != nil || again != nil {
			t.Errorf("replaying the superseded hash = %v, %v; want nil, nil", again, err)
		}
		if found, _ := repo.FindLiveByAccessHash(ctx, "access-2", rot.At); found == nil || found.ID != "01A" {
			t.Errorf("FindLiveByAccessHash = %v", found)
		}
		if found, _ := repo.FindLiveByAccessHash(ctx, "access-01A", rot.At); found != nil {
			t.Error("the previous access hash should no longer resolve")
		}
	})

	t.Run("rotate refuses expired and revoked sessions", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo, newSession("01A", "u1", "fp-a", t0), newSession("01B", "u1", "fp-b", t0))
		if _, _, err := repo.Revoke(ctx, "01B", domain.ReasonUserLogout, t0); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		late := domain.Rotation{RefreshTokenHash: "x", At: t0.Add(24 * time.Hour)}
		if s, _ := repo.Rotate(ctx, "refresh-01A", late); s != nil {
			t.Error("rotating at refresh expiry should fail")
		}
		if s, _ := repo.Rotate(ctx, "refresh-01B", domain.Rotation{RefreshTokenHash: "y", At: t0}); s != nil {
			t.Error("rotating a revoked session should fail")
		}
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo, newSession("01A", "u1", "fp-a", t0))
		found, changed, err := repo.Revoke(ctx, "01A", domain.ReasonUserLogout, t0)
		if err != nil || !found || !changed {
			t.Fatalf("first Revoke = %v, %v, %v", found, changed, err)
		}
		found, changed, err = repo.Revoke(ctx, "01A", domain.ReasonAdminRevoke, t0.Add(time.Minute))
		if err != nil || !found || changed {
			t.Fatalf("second Revoke = %v, %v, %v; want found and unchanged", found, changed, err)
		}
		s, _ := repo.GetByID(ctx, "01A")
		if s.RevokeReason != domain.ReasonUserLogout || !s.RevokedAt.Equal(t0) {
			t.Errorf("second revoke must not overwrite the first: %+v", s)
		}
		found, _, err = repo.Revoke(ctx, "missing", domain.ReasonUserLogout, t0)
		if err != nil || found {
			t.Errorf("Revoke missing = %v, %v", found, err)
		}
	})

	t.Run("revoke all for user", func(t *testing.T) {
		repo := newRepo(t)
		insert(t, repo,
			newSession("01A", "u1", "fp-a", t0),
			newSession("01B", "u1", "fp-b", t0),
			newSession("02A", "u2", "fp-a", t0),
		)
		revoked, err := repo.RevokeAllForUser(ctx, "u1", domain.ReasonSecurityBreach, t0)
		if err != nil || len(revoked) != 2 {
			t.Fatalf("RevokeAllForUser = %v, %v", revoked, err)
		}
		if live, _ := repo.ListLive(ctx, "u1", t0); len(live) != 0 {
			t.Errorf("u1 still has %d live sessions", len(live))
		}
		if live, _ := repo.ListLive(ctx, "u2", t0); len(live) != 1 {
			t.Error("u2 must be untouched")
		}
		if again, _ := repo.RevokeAllForUser(ctx, "u1", domain.ReasonSecurityBreach, t0); len(again) != 0 {
			t.Errorf("second RevokeAllForUser = %v, want none", again)
		}
	})

	t.Run("list live orders by last use", func(t *testing.T) {
		repo := newRepo(t)
		a := newSession("01A", "u1", "fp-a", t0)
		a.LastUsedAt = t0.Add(time.Hour)
		b := newSession("01B", "u1", "fp-b", t0.Add(time.Minute))
		c := newSession("01C", "u1", "fp-c", t0)
		c.RefreshExpiresAt = t0.Add(time.Minute)
		insert(t, repo, a, b, c)
		live, err := repo.ListLive(ctx, "u1", t0.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("ListLive: %v", err)
		}
		if got := fmt.Sprint(ids(live)); got != "[01A 01B]" {
			t.Errorf("ListLive = %s, want [01A 01B]", got)
		}
	})

	t.Run("expire then delete in batches", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 5; i++ {
			s := newSession(fmt.Sprintf("01%c", 'A'+i), "u1", fmt.Sprintf("fp-%d", i), t0)
			s.RefreshExpiresAt = t0.Add(time.Duration(i+1) * time.Minute)
			insert(t, repo, s)
		}
		now := t0.Add(10 * time.Minute)
		n, err := repo.DeactivateExpired(ctx, now, 3)
		if err != nil || n != 3 {
			t.Fatalf("first batch = %d, %v; want 3", n, err)
		}
		n, _ = repo.DeactivateExpired(ctx, now, 3)
		if n != 2 {
			t.Errorf("second batch = %d, want 2", n)
		}
		if n, _ := repo.DeactivateExpired(ctx, now, 3); n != 0 {
			t.Errorf("third batch = %d, want 0", n)
		}
		s, _ := repo.GetByID(ctx, "01A")
		if s.RevokeReason != domain.ReasonExpired {
			t.Errorf("reason = %q, want EXPIRED", s.RevokeReason)
		}

		if n, _ := repo.DeleteInactiveBefore(ctx, now, 10); n != 0 {
			t.Errorf("rows revoked at the cutoff must be kept, deleted %d", n)
		}
		n, err = repo.DeleteInactiveBefore(ctx, now.Add(time.Second), 4)
		if err != nil || n != 4 {
			t.Fatalf("DeleteInactiveBefore = %d, %v; want 4", n, err)
		}
		n, _ = repo.DeleteInactiveBefore(ctx, now.Add(time.Second), 4)
		if n != 1 {
			t.Errorf("remaining delete = %d, want 1", n)
		}
	})
}
