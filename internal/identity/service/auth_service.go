// Package service composes the user directory, the verification engine, the token codec and the
// session manager into the account flows: signup, login, password reset, refresh and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"authgate/internal/audit"
	"authgate/internal/devotp"
	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
	"authgate/internal/security"
	sessiondomain "authgate/internal/session/domain"
	sessionservice "authgate/internal/session/service"
	userdomain "authgate/internal/user/domain"
	userrepo "authgate/internal/user/repository"
	vdomain "authgate/internal/verification/domain"
	vservice "authgate/internal/verification/service"
)

// Sentinel errors for input the service rejects before any state changes; the handler maps them to
// gRPC codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidInput           = errors.New("invalid input")
)

// dummyPassword is hashed once and compared against when the email is unknown, so a login for a
// missing account costs the same as one with a wrong password.
const dummyPassword = "authgate-timing-equalizer"

// Verifier is the slice of the verification engine the service drives.
type Verifier interface {
	Issue(ctx context.Context, key vdomain.Key) (*vservice.Challenge, error)
	Verify(ctx context.Context, key vdomain.Key, candidate string) (*vservice.Result, error)
	Resend(ctx context.Context, key vdomain.Key) (*vservice.Challenge, error)
	ChangeFactor(ctx context.Context, userID string, c vdomain.Context, f vdomain.Factor) (*vservice.Challenge, error)
	NextStep(ctx context.Context, userID string, c vdomain.Context) (vdomain.NextStep, error)
	RoundStep(ctx context.Context, userID string, c vdomain.Context) (vdomain.NextStep, error)
	InRound(ctx context.Context, key vdomain.Key) (bool, error)
	Consume(ctx context.Context, userID string, c vdomain.Context) (bool, error)
	Plan(ctx context.Context, c vdomain.Context) ([]vdomain.Factor, error)
}

// SessionManager is the slice of the session manager the service drives.
type SessionManager interface {
	CreateOrReuse(ctx context.Context, in sessionservice.NewSession) (*sessionservice.Created, error)
	Refresh(ctx context.Context, in sessionservice.Refresh) (*sessiondomain.Session, error)
	Revoke(ctx context.Context, sessionID string, reason sessiondomain.RevokeReason) error
	RevokeAllForUser(ctx context.Context, userID string, reason sessiondomain.RevokeReason) ([]string, error)
	ListActive(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
	Get(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	FindByAccessToken(ctx context.Context, accessToken string) (*sessiondomain.Session, error)
}

// Config holds token lifetimes and the dev OTP switch.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// OTPReturnToClient echoes issued codes in responses. Development only.
	OTPReturnToClient bool
}

// Deps are the service's collaborators. DevOTP, Audit, Clock and Logger may be nil.
type Deps struct {
	Users        userrepo.Repository
	Passwords    security.Hasher
	Verification Verifier
	Tokens       *security.TokenCodec
	Sessions     SessionManager
	DevOTP       devotp.Store
	Audit        audit.AuditLogger
	Clock        clock.Clock
	Logger       *zap.Logger
}

// AuthService implements the account flows.
type AuthService struct {
	cfg      Config
	users    userrepo.Repository
	hasher   security.Hasher
	verify   Verifier
	tokens   *security.TokenCodec
	sessions SessionManager
	devotp   devotp.Store
	audit    audit.AuditLogger
	clock    clock.Clock
	log      *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(cfg Config, deps Deps) *AuthService {
	return &AuthService{
		cfg:      cfg,
		users:    deps.Users,
		hasher:   deps.Passwords,
		verify:   deps.Verification,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		devotp:   deps.DevOTP,
		audit:    audit.OrNop(deps.Audit),
		clock:    clock.OrSystem(deps.Clock),
		log:      logger.WithComponent(deps.Logger, "auth"),
	}
}

// Step is the outcome of a flow step that may need another code.
type Step struct {
	UserID   string
	NextStep vdomain.NextStep
	// Challenge is the code issued by this call, if any.
	Challenge *vservice.Challenge
	// DevOTP is the plaintext of Challenge, only when OTPReturnToClient is on.
	DevOTP string
}

// Tokens is a freshly minted access/refresh pair bound to a session.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// LoginResult is the outcome of CompleteLogin. Tokens is nil while factors remain.
type LoginResult struct {
	Step
	Tokens *Tokens
	// Evicted are sessions signed out to make room for this one.
	Evicted []string
}

// Principal is an authenticated caller.
type Principal struct {
	Claims  *security.Claims
	Session *sessiondomain.Session
}

// Register creates a user with the given email, password and optional phone, and returns its id.
// Signup verification starts with StartSignup.
func (s *AuthService) Register(ctx context.Context, email, password, phone string) (string, error) {
	email = userdomain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("auth.Register: hash password: %w", err)
	}
	now := s.clock.Now()
	u := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return "", ErrEmailAlreadyRegistered
		}
		return "", err
	}
	return u.ID, nil
}

// StartSignup issues the challenge for the user's next signup step. A finished signup returns
// COMPANY_DETAILS_REQUIRED without issuing anything.
func (s *AuthService) StartSignup(ctx context.Context, userID string) (*Step, error) {
	step, err := s.verify.NextStep(ctx, userID, vdomain.ContextSignup)
	if err != nil {
		return nil, err
	}
	out := &Step{UserID: userID, NextStep: step}
	f, ok := factorFor(step)
	if !ok {
		return out, nil
	}
	ch, err := s.verify.Issue(ctx, vdomain.Key{UserID: userID, Factor: f, Context: vdomain.ContextSignup})
	if err != nil {
		return nil, err
	}
	s.attach(ctx, out, ch)
	return out, nil
}

// VerifySignup checks a signup code and returns the next step. Verifying SMS issues the EMAIL code.
func (s *AuthService) VerifySignup(ctx context.Context, userID string, f vdomain.Factor, otp string) (*Step, error) {
	res, err := s.verify.Verify(ctx, vdomain.Key{UserID: userID, Factor: f, Context: vdomain.ContextSignup}, otp)
	if err != nil {
		return nil, err
	}
	step, err := s.verify.NextStep(ctx, userID, vdomain.ContextSignup)
	if err != nil {
		return nil, err
	}
	out := &Step{UserID: userID, NextStep: step}
	s.attach(ctx, out, res.Chained)
	return out, nil
}

// BeginLogin checks the password and issues the first factor of the login plan.
// Unknown email and wrong password both fail with InvalidCredentials.
func (s *AuthService) BeginLogin(ctx context.Context, email, password string) (*Step, error) {
	const op = "auth.BeginLogin"
	u, err := s.checkPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.audit.LogEvent(ctx, "", audit.ActionLoginFailure, audit.ResourceAuth, "reason=invalid_credentials")
		return nil, apperr.E(apperr.InvalidCredentials, op)
	}
	plan, err := s.verify.Plan(ctx, vdomain.ContextLogin)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%s: empty login plan", op)
	}
	ch, err := s.verify.Issue(ctx, vdomain.Key{UserID: u.ID, Factor: plan[0], Context: vdomain.ContextLogin})
	if err != nil {
		return nil, err
	}
	out := &Step{UserID: u.ID, NextStep: vdomain.RequiredStep(plan[0])}
	s.attach(ctx, out, ch)
	return out, nil
}

// CompleteLogin is the input of CompleteLogin.
type CompleteLogin struct {
	UserID    string
	Factor    vdomain.Factor
	OTP       string
	IP        string
	UserAgent string
}

// CompleteLogin verifies a login code. When the login plan is satisfied it mints a token pair, records
// the session and ends the verification round; otherwise it returns the next step.
func (s *AuthService) CompleteLogin(ctx context.Context, in CompleteLogin) (*LoginResult, error) {
	const op = "auth.CompleteLogin"
	key := vdomain.Key{UserID: in.UserID, Factor: in.Factor, Context: vdomain.ContextLogin}
	res, err := s.verify.Verify(ctx, key, in.OTP)
	if err != nil {
		return nil, err
	}
	step, err := s.roundStep(ctx, key, op)
	if err != nil {
		return nil, err
	}
	out := &LoginResult{Step: Step{UserID: in.UserID, NextStep: step}}
	if step != vdomain.StepComplete {
		s.attach(ctx, &out.Step, res.Chained)
		return out, nil
	}
	// Only the call that retires the round opens a session. A replay of the same code, concurrent or
	// not, finds nothing left to consume.
	claimed, err := s.verify.Consume(ctx, in.UserID, vdomain.ContextLogin)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apperr.E(apperr.NoActiveChallenge, op)
	}

	u, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.E(apperr.InvalidCredentials, op)
	}
	tokens, err := s.mintPair(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	created, err := s.sessions.CreateOrReuse(ctx, sessionservice.NewSession{
		UserID:           u.ID,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		AccessExpiresAt:  tokens.AccessExpiresAt,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		IP:               in.IP,
		UserAgent:        in.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	tokens.SessionID = created.Session.ID
	out.Tokens = tokens
	out.Evicted = created.Evicted
	return out, nil
}

// roundStep returns the round's next step after a successful Verify of key. A verified code that no
// longer counts toward the round belongs to a round another call has already consumed.
func (s *AuthService) roundStep(ctx context.Context, key vdomain.Key, op string) (vdomain.NextStep, error) {
	step, err := s.verify.RoundStep(ctx, key.UserID, key.Context)
	if err != nil {
		return "", err
	}
	if step == vdomain.StepComplete {
		return step, nil
	}
	ok, err := s.verify.InRound(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.E(apperr.NoActiveChallenge, op)
	}
	return step, nil
}

// Resend re-issues the active challenge of (userID, factor, context).
func (s *AuthService) Resend(ctx context.Context, userID string, f vdomain.Factor, c vdomain.Context) (*Step, error) {
	ch, err := s.verify.Resend(ctx, vdomain.Key{UserID: userID, Factor: f, Context: c})
	if err != nil {
		return nil, err
	}
	out := &Step{UserID: userID, NextStep: vdomain.RequiredStep(f)}
	s.attach(ctx, out, ch)
	return out, nil
}

// ChangeFactor abandons the context's pending challenges and issues one for f instead.
func (s *AuthService) ChangeFactor(ctx context.Context, userID string, c vdomain.Context, f vdomain.Factor) (*Step, error) {
	ch, err := s.verify.ChangeFactor(ctx, userID, c, f)
	if err != nil {
		return nil, err
	}
	out := &Step{UserID: userID, NextStep: vdomain.RequiredStep(f)}
	s.attach(ctx, out, ch)
	return out, nil
}

// BeginPasswordReset issues a PASSWORD_RESET code to the account's email. An unknown email succeeds
// without issuing anything, so the call cannot be used to probe for accounts.
func (s *AuthService) BeginPasswordReset(ctx context.Context, email string) (*Step, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	out := &Step{NextStep: vdomain.StepEmailRequired}
	if u == nil {
		return out, nil
	}
	ch, err := s.verify.Issue(ctx, vdomain.Key{UserID: u.ID, Factor: vdomain.FactorEmail, Context: vdomain.ContextPasswordReset})
	if err != nil {
		return nil, err
	}
	s.attach(ctx, out, ch)
	return out, nil
}

// CompletePasswordReset verifies the reset code, sets the new password and signs the user out everywhere.
func (s *AuthService) CompletePasswordReset(ctx context.Context, email, otp, newPassword string) error {
	const op = "auth.CompletePasswordReset"
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.E(apperr.NoActiveChallenge, op)
	}
	key := vdomain.Key{UserID: u.ID, Factor: vdomain.FactorEmail, Context: vdomain.ContextPasswordReset}
	if _, err := s.verify.Verify(ctx, key, otp); err != nil {
		return err
	}
	step, err := s.roundStep(ctx, key, op)
	if err != nil {
		return err
	}
	if step != vdomain.StepComplete {
		return apperr.E(apperr.SequenceViolation, op)
	}
	claimed, err := s.verify.Consume(ctx, u.ID, vdomain.ContextPasswordReset)
	if err != nil {
		return err
	}
	if !claimed {
		return apperr.E(apperr.NoActiveChallenge, op)
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: hash password: %w", op, err)
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hashed, s.clock.Now()); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, u.ID, sessiondomain.ReasonSecurityBreach); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, u.ID, audit.ActionPasswordReset, audit.ResourceAuth, "")
	return nil
}

// Refresh rotates a refresh token into a new pair for the same session. Any token or session problem
// fails with InvalidOrExpiredRefreshToken; store failures keep their kind.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*Tokens, error) {
	const op = "auth.Refresh"
	if refreshToken == "" {
		return nil, apperr.E(apperr.InvalidOrExpiredRefreshToken, op)
	}
	claims, err := s.tokens.ValidateKind(refreshToken, security.KindRefresh)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidOrExpiredRefreshToken, op, err)
	}
	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.E(apperr.InvalidOrExpiredRefreshToken, op)
	}
	tokens, err := s.mintPair(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess, err := s.sessions.Refresh(ctx, sessionservice.Refresh{
		OldRefreshToken:     refreshToken,
		NewAccessToken:      tokens.AccessToken,
		NewRefreshToken:     tokens.RefreshToken,
		NewAccessExpiresAt:  tokens.AccessExpiresAt,
		NewRefreshExpiresAt: tokens.RefreshExpiresAt,
		IP:                  ip,
	})
	if err != nil {
		return nil, err
	}
	tokens.SessionID = sess.ID
	return tokens, nil
}

// Logout revokes one session with USER_LOGOUT.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID, sessiondomain.ReasonUserLogout)
}

// LogoutAll revokes every session of the user with USER_LOGOUT and returns how many were active.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	ids, err := s.sessions.RevokeAllForUser(ctx, userID, sessiondomain.ReasonUserLogout)
	return len(ids), err
}

// ListSessions returns the user's active sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession revokes one of the user's own sessions. Another user's session id fails with
// SessionNotFound.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return apperr.E(apperr.SessionNotFound, "auth.RevokeSession")
	}
	return s.sessions.Revoke(ctx, sessionID, sessiondomain.ReasonUserLogout)
}

// Authenticate validates an access token and requires that it is still the current access token of a
// live session. Token failures keep their kind (TokenMalformed, SignatureInvalid, TokenExpired).
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	const op = "auth.Authenticate"
	claims, err := s.tokens.ValidateKind(accessToken, security.KindAccess)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, apperr.E(apperr.SubjectMismatch, op)
	}
	return &Principal{Claims: claims, Session: sess}, nil
}

// checkPassword returns the user when email and password match, nil when they do not.
func (s *AuthService) checkPassword(ctx context.Context, email, password string) (*userdomain.User, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.hasher.Verify(password, s.dummy())
		return nil, nil
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, nil
	}
	return u, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.log.Warn("dummy hash failed", zap.Error(err))
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *AuthService) mintPair(u *userdomain.User) (*Tokens, error) {
	id := security.Identity{UserID: u.ID, Subject: u.Email, Roles: u.Roles, Profile: u.Profile}
	access, accessExp, err := s.tokens.Mint(security.KindAccess, id, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.Mint(security.KindRefresh, id, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}
	return &Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// attach records ch on out and, in dev mode, the code the notifier stored for it.
func (s *AuthService) attach(ctx context.Context, out *Step, ch *vservice.Challenge) {
	if ch == nil {
		return
	}
	out.Challenge = ch
	out.NextStep = vdomain.RequiredStep(ch.Key.Factor)
	if !s.cfg.OTPReturnToClient || s.devotp == nil {
		return
	}
	if otp, ok := s.devotp.Get(ctx, devotp.Key{
		UserID:  ch.Key.UserID,
		Factor:  string(ch.Key.Factor),
		Context: string(ch.Key.Context),
	}); ok {
		out.DevOTP = otp
	}
}

func factorFor(step vdomain.NextStep) (vdomain.Factor, bool) {
	switch step {
	case vdomain.StepSMSRequired:
		return vdomain.FactorSMS, true
	case vdomain.StepEmailRequired:
		return vdomain.FactorEmail, true
	}
	return "", false
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidInput)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	case !hasLower:
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	case !hasNumber:
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidInput)
	case !hasSymbol:
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidInput)
	}
	return nil
}
