// Package service implements the session lifecycle: bounded per-user session sets, in-place refresh
// rotation and revocation.
package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"authgate/internal/audit"
	"authgate/internal/device"
	"authgate/internal/notify"
	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
	"authgate/internal/security"
	"authgate/internal/session/domain"
	"authgate/internal/session/repository"
)

const (
	tracerName = "authgate/session"

	// ActionCreated tags the result of CreateOrReuse. A login always inserts a new row.
	ActionCreated = "CREATED"

	DefaultMaxConcurrentSessions = 5
)

// ListCache is an advisory cache of ListActive results. The repository stays the source of truth.
// Put only stores when no Invalidate for the user happened since Version returned version.
type ListCache interface {
	Get(ctx context.Context, userID string) ([]*domain.Session, bool)
	Version(ctx context.Context, userID string) (int64, error)
	Put(ctx context.Context, userID string, version int64, sessions []*domain.Session)
	Invalidate(ctx context.Context, userID string)
}

// Contacts resolves where session-security notices go.
type Contacts interface {
	Email(ctx context.Context, userID string) (string, error)
}

// Config holds the manager's limits.
type Config struct {
	MaxConcurrentSessions int
}

// Deps are the manager's collaborators. Repo is required.
type Deps struct {
	Repo          repository.Repository
	Fingerprinter *device.Fingerprinter
	Cache         ListCache
	Notifier      notify.Notifier
	Contacts      Contacts
	Audit         audit.AuditLogger
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Manager bounds and tracks live sessions per user.
type Manager struct {
	max      int
	repo     repository.Repository
	fp       *device.Fingerprinter
	cache    ListCache
	notifier notify.Notifier
	contacts Contacts
	audit    audit.AuditLogger
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *zap.Logger
	tracer   trace.Tracer
	ids      *idSource
}

// NewManager returns a Manager. A non-positive MaxConcurrentSessions selects the default.
func NewManager(cfg Config, deps Deps) *Manager {
	limit := cfg.MaxConcurrentSessions
	if limit <= 0 {
		limit = DefaultMaxConcurrentSessions
	}
	fp := deps.Fingerprinter
	if fp == nil {
		fp = device.NewFingerprinter(true, "")
	}
	return &Manager{
		max:      limit,
		repo:     deps.Repo,
		fp:       fp,
		cache:    deps.Cache,
		notifier: notify.OrNop(deps.Notifier),
		contacts: deps.Contacts,
		audit:    audit.OrNop(deps.Audit),
		clock:    clock.OrSystem(deps.Clock),
		metrics:  deps.Metrics,
		log:      logger.WithComponent(deps.Logger, "session"),
		tracer:   otel.Tracer(tracerName),
		ids:      newIDSource(),
	}
}

// NewSession is the input of CreateOrReuse. Tokens are hashed before they reach the store.
type NewSession struct {
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	IP               string
	UserAgent        string
}

// Created is the outcome of CreateOrReuse.
type Created struct {
	Session *domain.Session
	Action  string
	// Replaced are the previous sessions of the same device, revoked with NEW_LOGIN.
	Replaced []string
	// Evicted are sessions of other devices revoked with MAX_SESSIONS_EXCEEDED to make room.
	Evicted []string
}

// CreateOrReuse records a fresh login. Earlier sessions of the same device are revoked, then the
// oldest sessions by issuance are evicted until the new one fits under the limit. The whole sequence
// runs under the user's lock, so concurrent logins can never exceed the limit.
func (m *Manager) CreateOrReuse(ctx context.Context, in NewSession) (res *Created, err error) {
	const op = "session.CreateOrReuse"
	ctx, span := m.tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	now := m.clock.Now()
	id, err := m.ids.next(now)
	if err != nil {
		return nil, fmt.Errorf("%s: session id: %w", op, err)
	}
	s := &domain.Session{
		ID:                  id,
		UserID:              in.UserID,
		DeviceFingerprint:   m.fp.Fingerprint(in.IP, in.UserAgent),
		DeviceLabel:         device.Label(in.UserAgent),
		IPAddress:           in.IP,
		AccessTokenHash:     security.HashToken(in.AccessToken),
		RefreshTokenHash:    security.HashToken(in.RefreshToken),
		RefreshTokenVersion: 1,
		IssuedAt:            now,
		AccessExpiresAt:     in.AccessExpiresAt,
		RefreshExpiresAt:    in.RefreshExpiresAt,
		LastUsedAt:          now,
		IsActive:            true,
	}

	res = &Created{Session: s, Action: ActionCreated}
	var evicted []*domain.Session
	err = m.repo.WithinUser(ctx, in.UserID, func(ctx context.Context, tx repository.UserTx) error {
		res.Replaced, res.Evicted, evicted = nil, nil, nil

		replaced, err := tx.DeactivateDevice(ctx, in.UserID, s.DeviceFingerprint, domain.ReasonNewLogin, now)
		if err != nil {
			return err
		}
		res.Replaced = replaced

		live, err := tx.ListLive(ctx, in.UserID, now)
		if err != nil {
			return err
		}
		for len(live) >= m.max {
			victim := live[0]
			if err := tx.Deactivate(ctx, victim.ID, domain.ReasonMaxSessionsExceeded, now); err != nil {
				return err
			}
			res.Evicted = append(res.Evicted, victim.ID)
			evicted = append(evicted, victim)
			live = live[1:]
		}
		return tx.Insert(ctx, s)
	})
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	span.SetAttributes(
		attribute.Int("session.replaced", len(res.Replaced)),
		attribute.Int("session.evicted", len(res.Evicted)),
	)

	m.invalidate(ctx, in.UserID)
	m.metrics.SessionCreated()
	m.audit.LogEvent(ctx, in.UserID, audit.ActionSessionCreated, audit.ResourceSession,
		fmt.Sprintf("session=%s device=%q", s.ID, s.DeviceLabel))
	for _, id := range res.Replaced {
		m.metrics.SessionRevoked(string(domain.ReasonNewLogin), 1)
		m.audit.LogEvent(ctx, in.UserID, audit.ActionSessionReplaced, audit.ResourceSession,
			fmt.Sprintf("session=%s replaced_by=%s", id, s.ID))
	}
	for _, v := range evicted {
		m.metrics.SessionEvicted()
		m.audit.LogEvent(ctx, in.UserID, audit.ActionSessionEvicted, audit.ResourceSession,
			fmt.Sprintf("session=%s reason=%s", v.ID, domain.ReasonMaxSessionsExceeded))
		m.notifyEvicted(ctx, v)
	}
	return res, nil
}

// notifyEvicted tells the user a device was signed out. Best-effort: the eviction is already committed.
func (m *Manager) notifyEvicted(ctx context.Context, s *domain.Session) {
	if m.contacts == nil {
		return
	}
	to, err := m.contacts.Email(ctx, s.UserID)
	if err != nil || to == "" {
		m.log.Debug("no contact for eviction notice", zap.String("user_id", s.UserID), zap.Error(err))
		return
	}
	msg := notify.Stamp(notify.Message{
		Channel:   notify.ChannelEmail,
		Recipient: to,
		Subject:   "A device was signed out",
		Body: fmt.Sprintf("Your session on %s was signed out because a new sign-in reached the limit of %d active sessions.",
			s.DeviceLabel, m.max),
		Tag:    notify.TagSessionEvicted,
		UserID: s.UserID,
	}, m.clock.Now())
	if err := m.notifier.Send(ctx, msg); err != nil {
		m.log.Warn("eviction notice failed", zap.String("session_id", s.ID), zap.Error(err))
		m.metrics.NotificationFailed(string(notify.ChannelEmail))
	}
}

// Refresh is the input of Refresh.
type Refresh struct {
	OldRefreshToken     string
	NewAccessToken      string
	NewRefreshToken     string
	NewAccessExpiresAt  time.Time
	NewRefreshExpiresAt time.Time
	IP                  string
}

// Refresh rotates the token pair of the live session holding OldRefreshToken, in place: the session id
// is kept and refreshTokenVersion goes up by one. A token that is unknown, superseded, revoked or past
// its refresh expiry fails with InvalidOrExpiredRefreshToken.
func (m *Manager) Refresh(ctx context.Context, in Refresh) (s *domain.Session, err error) {
	const op = "session.Refresh"
	ctx, span := m.tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	s, err = m.repo.Rotate(ctx, security.HashToken(in.OldRefreshToken), domain.Rotation{
		AccessTokenHash:  security.HashToken(in.NewAccessToken),
		RefreshTokenHash: security.HashToken(in.NewRefreshToken),
		AccessExpiresAt:  in.NewAccessExpiresAt,
		RefreshExpiresAt: in.NewRefreshExpiresAt,
		IPAddress:        in.IP,
		At:               m.clock.Now(),
	})
	if err != nil {
		m.metrics.Refresh("error")
		return nil, apperr.Store(op, err)
	}
	if s == nil {
		m.metrics.Refresh("rejected")
		return nil, apperr.E(apperr.InvalidOrExpiredRefreshToken, op)
	}
	m.metrics.Refresh("rotated")
	m.invalidate(ctx, s.UserID)
	m.audit.LogEvent(ctx, s.UserID, audit.ActionSessionRefreshed, audit.ResourceSession,
		fmt.Sprintf("session=%s version=%d", s.ID, s.RefreshTokenVersion))
	return s, nil
}

// Revoke deactivates one session. Revoking an inactive session succeeds without change; an unknown id
// fails with SessionNotFound.
func (m *Manager) Revoke(ctx context.Context, sessionID string, reason domain.RevokeReason) error {
	const op = "session.Revoke"
	found, changed, err := m.repo.Revoke(ctx, sessionID, reason, m.clock.Now())
	if err != nil {
		return apperr.Store(op, err)
	}
	if !found {
		return apperr.E(apperr.SessionNotFound, op)
	}
	if !changed {
		return nil
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil || s == nil {
		m.log.Warn("revoked session reload failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	m.metrics.SessionRevoked(string(reason), 1)
	m.invalidate(ctx, s.UserID)
	m.audit.LogEvent(ctx, s.UserID, audit.ActionSessionRevoked, audit.ResourceSession,
		fmt.Sprintf("session=%s reason=%s", sessionID, reason))
	return nil
}

// RevokeAllForUser deactivates every active session of the user and returns their ids.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason) ([]string, error) {
	ids, err := m.repo.RevokeAllForUser(ctx, userID, reason, m.clock.Now())
	if err != nil {
		return nil, apperr.Store("session.RevokeAllForUser", err)
	}
	m.invalidate(ctx, userID)
	if len(ids) > 0 {
		m.metrics.SessionRevoked(string(reason), len(ids))
		m.audit.LogEvent(ctx, userID, audit.ActionSessionRevoked, audit.ResourceSession,
			fmt.Sprintf("sessions=%d reason=%s", len(ids), reason))
	}
	return ids, nil
}

// ListActive returns the user's active, unexpired sessions, most recently used first.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	now := m.clock.Now()
	if m.cache != nil {
		if cached, ok := m.cache.Get(ctx, userID); ok {
			// Entries may have expired since they were cached.
			out := cached[:0:0]
			for _, s := range cached {
				if s.Live(now) {
					out = append(out, s)
				}
			}
			return out, nil
		}
	}
	var (
		version   int64
		cacheable bool
	)
	if m.cache != nil {
		v, err := m.cache.Version(ctx, userID)
		version, cacheable = v, err == nil
	}
	sessions, err := m.repo.ListLive(ctx, userID, now)
	if err != nil {
		return nil, apperr.Store("session.ListActive", err)
	}
	if cacheable {
		m.cache.Put(ctx, userID, version, sessions)
	}
	return sessions, nil
}

// Get returns the session with id, active or not. Fails with SessionNotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "session.Get"
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if s == nil {
		return nil, apperr.E(apperr.SessionNotFound, op)
	}
	return s, nil
}

// FindByAccessToken returns the live session whose current access token is accessToken.
// A rotated-away or revoked token fails with SessionNotFound.
func (m *Manager) FindByAccessToken(ctx context.Context, accessToken string) (*domain.Session, error) {
	const op = "session.FindByAccessToken"
	s, err := m.repo.FindLiveByAccessHash(ctx, security.HashToken(accessToken), m.clock.Now())
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if s == nil {
		return nil, apperr.E(apperr.SessionNotFound, op)
	}
	return s, nil
}

// MaxConcurrentSessions returns the configured limit.
func (m *Manager) MaxConcurrentSessions() int { return m.max }

func (m *Manager) invalidate(ctx context.Context, userID string) {
	if m.cache != nil {
		m.cache.Invalidate(ctx, userID)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}
