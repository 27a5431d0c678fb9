package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"authgate/internal/audit/domain"
	auditrepo "authgate/internal/audit/repository"
	"authgate/internal/platform/clock"
)

type failingRepo struct{ auditrepo.MemoryRepository }

func (*failingRepo) Create(context.Context, *domain.AuditLog) error {
	return errors.New("database error")
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	ipExtractor := func(ctx context.Context) string { return "192.168.1.1" }
	l := NewLogger(repo, ipExtractor, clock.NewFake(t0), nil)

	l.LogEvent(context.Background(), "user-1", ActionSessionCreated, ResourceSession, "session_id=s1")

	entries, _ := repo.ListByUser(context.Background(), "user-1", 10, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" || e.Action != ActionSessionCreated || e.Resource != ResourceSession {
		t.Errorf("entry = %+v", e)
	}
	if e.IP != "192.168.1.1" || e.Metadata != "session_id=s1" || !e.CreatedAt.Equal(t0) {
		t.Errorf("entry = %+v", e)
	}
}

func TestLogger_LogEvent_UnknownIP(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	NewLogger(repo, nil, nil, nil).LogEvent(context.Background(), "u", "a", "r", "")
	NewLogger(repo, func(context.Context) string { return "" }, nil, nil).LogEvent(context.Background(), "u", "b", "r", "")

	entries, _ := repo.ListByUser(context.Background(), "u", 0, 0)
	for _, e := range entries {
		if e.IP != "unknown" {
			t.Errorf("IP = %q, want unknown", e.IP)
		}
	}
}

func TestLogger_LogEvent_CancelledContextStillWrites(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewLogger(repo, nil, nil, nil).LogEvent(ctx, "u", ActionSessionRevoked, ResourceSession, "")
	if entries, _ := repo.ListByUser(context.Background(), "u", 0, 0); len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestLogger_LogEvent_Failures(t *testing.T) {
	// Neither a failing repo nor a nil repo may panic or surface an error.
	NewLogger(&failingRepo{}, nil, nil, nil).LogEvent(context.Background(), "u", "a", "r", "")
	NewLogger(nil, nil, nil, nil).LogEvent(context.Background(), "u", "a", "r", "")
	OrNop(nil).LogEvent(context.Background(), "u", "a", "r", "")
}

func TestMemoryRepository_ListByUser(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	ctx := context.Background()
	for i, action := range []string{"a1", "a2", "a3"} {
		_ = repo.Create(ctx, &domain.AuditLog{ID: action, UserID: "u", Action: action, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	_ = repo.Create(ctx, &domain.AuditLog{ID: "other", UserID: "v", Action: "x"})

	got, _ := repo.ListByUser(ctx, "u", 2, 1)
	if len(got) != 2 || got[0].Action != "a2" || got[1].Action != "a1" {
		t.Errorf("ListByUser(limit 2, offset 1) = %v", actions(got))
	}
}

func actions(entries []*domain.AuditLog) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}
