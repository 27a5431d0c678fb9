// Package service implements the OTP challenge state machine: issue, verify, resend and factor
// switching per (user, factor, context), with attempt and resend limits and cross-factor sequencing.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"authgate/internal/audit"
	"authgate/internal/mfa"
	"authgate/internal/notify"
	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
	"authgate/internal/policy/engine"
	"authgate/internal/security"
	"authgate/internal/verification/domain"
	"authgate/internal/verification/repository"
)

const tracerName = "authgate/verification"

// Config holds the challenge limits and lifetimes.
type Config struct {
	SMSExpiry      time.Duration
	EmailExpiry    time.Duration
	MaxAttempts    int
	MaxResends     int
	ResendCooldown time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SMSExpiry:      10 * time.Minute,
		EmailExpiry:    15 * time.Minute,
		MaxAttempts:    5,
		MaxResends:     3,
		ResendCooldown: 30 * time.Second,
	}
}

func (c Config) expiry(f domain.Factor) time.Duration {
	if f == domain.FactorSMS {
		return c.SMSExpiry
	}
	return c.EmailExpiry
}

// Recipients resolves the address a factor's code is sent to.
type Recipients interface {
	Recipient(ctx context.Context, userID string, f domain.Factor) (string, error)
}

// Deps are the engine's collaborators. Repo, Hasher and both generators are required; the rest may be nil.
type Deps struct {
	Repo       repository.Repository
	Hasher     security.Hasher
	SMSCodes   mfa.Generator
	EmailCodes mfa.Generator
	Planner    engine.Planner
	Notifier   notify.Notifier
	Recipients Recipients
	Audit      audit.AuditLogger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Engine owns the challenge lifecycle. It holds no per-user state in memory; the repository is
// the only source of truth.
type Engine struct {
	cfg        Config
	repo       repository.Repository
	hasher     security.Hasher
	codes      map[domain.Factor]mfa.Generator
	planner    engine.Planner
	notifier   notify.Notifier
	recipients Recipients
	audit      audit.AuditLogger
	clock      clock.Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
	tracer     trace.Tracer
}

// NewEngine returns an Engine.
func NewEngine(cfg Config, deps Deps) *Engine {
	planner := deps.Planner
	if planner == nil {
		planner = engine.Static{}
	}
	return &Engine{
		cfg:    cfg,
		repo:   deps.Repo,
		hasher: deps.Hasher,
		codes: map[domain.Factor]mfa.Generator{
			domain.FactorSMS:   deps.SMSCodes,
			domain.FactorEmail: deps.EmailCodes,
		},
		planner:    planner,
		notifier:   notify.OrNop(deps.Notifier),
		recipients: deps.Recipients,
		audit:      audit.OrNop(deps.Audit),
		clock:      clock.OrSystem(deps.Clock),
		metrics:    deps.Metrics,
		log:        logger.WithComponent(deps.Logger, "verification"),
		tracer:     otel.Tracer(tracerName),
	}
}

// Challenge describes an issued code. The plaintext code is never returned.
type Challenge struct {
	ID          string
	Key         domain.Key
	ExpiresAt   time.Time
	ResendCount int
}

// Result is the outcome of a successful Verify.
type Result struct {
	Key             domain.Key
	AlreadyVerified bool
	// Chained is the follow-on challenge issued after this factor, when the plan has one and it was issued.
	Chained *Challenge
}

type resendCarry struct {
	count int
	at    time.Time
}

// Issue creates a fresh challenge for key, invalidating any active one, and hands the code to the notifier.
// Fails with SequenceViolation when an earlier factor of the context's plan is not yet verified.
func (e *Engine) Issue(ctx context.Context, key domain.Key) (ch *Challenge, err error) {
	ctx, span := e.startSpan(ctx, "verification.Issue", key)
	defer func() { endSpan(span, err) }()
	return e.issue(ctx, key, nil)
}

func (e *Engine) issue(ctx context.Context, key domain.Key, carry *resendCarry) (*Challenge, error) {
	const op = "verification.Issue"
	if err := e.checkSequence(ctx, key, op); err != nil {
		return nil, err
	}
	gen := e.codes[key.Factor]
	if gen == nil {
		return nil, fmt.Errorf("%s: no code generator for factor %s", op, key.Factor)
	}
	code, err := gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("%s: generate code: %w", op, err)
	}
	digest, err := e.hasher.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("%s: hash code: %w", op, err)
	}
	now := e.clock.Now()
	v := &domain.Verification{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    key.UserID,
		Factor:    key.Factor,
		Context:   key.Context,
		OTPHash:   digest,
		ExpiresAt: now.Add(e.cfg.expiry(key.Factor)),
		CreatedAt: now,
	}
	if carry != nil {
		v.ResendCount = carry.count
		at := carry.at
		v.LastResend = &at
	}
	if err := e.repo.Replace(ctx, v, now); err != nil {
		return nil, apperr.Store(op, err)
	}
	e.metrics.OTPIssue(string(key.Factor))
	e.audit.LogEvent(ctx, key.UserID, audit.ActionChallengeIssued, audit.ResourceVerification,
		fmt.Sprintf("context=%s factor=%s resend=%d", key.Context, key.Factor, v.ResendCount))
	e.deliver(ctx, key, code, v.ExpiresAt)
	return &Challenge{ID: v.ID, Key: key, ExpiresAt: v.ExpiresAt, ResendCount: v.ResendCount}, nil
}

// deliver hands the code to the notifier. The challenge is already committed, so failures are only
// logged; the user recovers with Resend.
func (e *Engine) deliver(ctx context.Context, key domain.Key, code string, expiresAt time.Time) {
	channel := notify.ChannelEmail
	if key.Factor == domain.FactorSMS {
		channel = notify.ChannelSMS
	}
	var recipient string
	if e.recipients != nil {
		r, err := e.recipients.Recipient(ctx, key.UserID, key.Factor)
		if err != nil {
			e.log.Warn("resolve recipient failed", zap.String("key", key.String()), zap.Error(err))
			e.metrics.NotificationFailed(string(channel))
			return
		}
		recipient = r
	}
	msg := notify.Stamp(notify.Message{
		Channel:   channel,
		Recipient: recipient,
		Subject:   "Your verification code",
		Body:      fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(e.cfg.expiry(key.Factor).Minutes())),
		Code:      code,
		Tag:       notify.TagOTP,
		UserID:    key.UserID,
		Factor:    string(key.Factor),
		Context:   string(key.Context),
		ExpiresAt: expiresAt,
	}, e.clock.Now())
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.log.Warn("send code failed", zap.String("key", key.String()), zap.Error(err))
		e.metrics.NotificationFailed(string(channel))
	}
}

// Verify checks candidate against the current challenge for key.
//
// The attempt is recorded before the code is compared, so a crash in between still counts it.
// A challenge that is already verified succeeds again without consuming an attempt.
// On success of a factor that has a successor in the plan, the successor is issued; a failure
// there is logged and never undoes this verification.
func (e *Engine) Verify(ctx context.Context, key domain.Key, candidate string) (res *Result, err error) {
	const op = "verification.Verify"
	ctx, span := e.startSpan(ctx, op, key)
	defer func() { endSpan(span, err) }()

	if err := e.checkSequence(ctx, key, op); err != nil {
		e.metrics.OTPVerify("sequence")
		return nil, err
	}
	now := e.clock.Now()
	row, err := e.repo.Current(ctx, key, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if row == nil {
		e.metrics.OTPVerify("no_challenge")
		return nil, apperr.E(apperr.NoActiveChallenge, op)
	}
	if row.Verified {
		e.metrics.OTPVerify("already_verified")
		return &Result{Key: key, AlreadyVerified: true}, nil
	}

	count, ok, err := e.repo.IncrementAttempts(ctx, row.ID, e.cfg.MaxAttempts, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if !ok {
		// The ceiling was reached, or a parallel call verified or superseded the row first.
		return e.settle(ctx, key, row.ID, now, op, apperr.E(apperr.AttemptsExceeded, op))
	}

	if !e.hasher.Verify(candidate, row.OTPHash) {
		e.metrics.OTPVerify("invalid")
		e.audit.LogEvent(ctx, key.UserID, audit.ActionChallengeFailed, audit.ResourceVerification,
			fmt.Sprintf("context=%s factor=%s attempt=%d", key.Context, key.Factor, count))
		return nil, apperr.InvalidOtpRemaining(op, e.cfg.MaxAttempts-count)
	}

	first, err := e.repo.MarkVerified(ctx, row.ID, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if !first {
		return e.settle(ctx, key, row.ID, now, op, apperr.E(apperr.NoActiveChallenge, op))
	}
	e.metrics.OTPVerify("success")
	e.audit.LogEvent(ctx, key.UserID, audit.ActionChallengeVerified, audit.ResourceVerification,
		fmt.Sprintf("context=%s factor=%s", key.Context, key.Factor))

	res = &Result{Key: key}
	res.Chained = e.chainNext(ctx, key)
	return res, nil
}

// settle resolves a conditional update on row id that matched nothing. A row verified in the meantime
// is an idempotent success; a row that is no longer current was superseded; otherwise fallback applies.
func (e *Engine) settle(ctx context.Context, key domain.Key, id string, now time.Time, op string, fallback error) (*Result, error) {
	again, err := e.repo.Current(ctx, key, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	switch {
	case again == nil || again.ID != id:
		e.metrics.OTPVerify("no_challenge")
		return nil, apperr.E(apperr.NoActiveChallenge, op)
	case again.Verified:
		e.metrics.OTPVerify("already_verified")
		return &Result{Key: key, AlreadyVerified: true}, nil
	}
	e.metrics.OTPVerify("exhausted")
	return nil, fallback
}

// chainNext issues the factor that follows key.Factor in the plan, if it is not verified yet.
func (e *Engine) chainNext(ctx context.Context, key domain.Key) *Challenge {
	plan, err := e.planner.Plan(ctx, key.Context)
	if err != nil {
		e.log.Warn("plan lookup for chained issue failed", zap.String("key", key.String()), zap.Error(err))
		return nil
	}
	idx := indexOf(plan, key.Factor)
	if idx < 0 || idx+1 >= len(plan) {
		return nil
	}
	next := domain.Key{UserID: key.UserID, Factor: plan[idx+1], Context: key.Context}
	if done, err := e.repo.IsVerified(ctx, next); err == nil && done {
		return nil
	}
	ch, err := e.issue(ctx, next, nil)
	if err != nil {
		e.log.Warn("chained issue failed", zap.String("key", next.String()), zap.Error(err))
		return nil
	}
	return ch
}

// Resend replaces the active challenge for key with a new code. Fails with NoActiveChallenge when
// there is nothing to resend, ResendLimitExceeded after MaxResends, and ResendTooSoon inside the cooldown.
// The fresh challenge starts with zero attempts and carries the resend count forward.
func (e *Engine) Resend(ctx context.Context, key domain.Key) (ch *Challenge, err error) {
	const op = "verification.Resend"
	ctx, span := e.startSpan(ctx, op, key)
	defer func() { endSpan(span, err) }()

	now := e.clock.Now()
	row, err := e.repo.Current(ctx, key, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if err := e.resendRefusal(row, now, op); err != nil {
		return nil, err
	}
	// The limit and cooldown are checked again by the store while it records the resend; only the
	// caller that claims it issues a new code.
	count, ok, err := e.repo.ClaimResend(ctx, row.ID, e.cfg.MaxResends, e.cfg.ResendCooldown, now)
	if err != nil {
		return nil, apperr.Store(op, err)
	}
	if !ok {
		again, err := e.repo.Current(ctx, key, now)
		if err != nil {
			return nil, apperr.Store(op, err)
		}
		if err := e.resendRefusal(again, now, op); err != nil {
			return nil, err
		}
		return nil, apperr.E(apperr.ResendTooSoon, op)
	}
	return e.issue(ctx, key, &resendCarry{count: count, at: now})
}

func (e *Engine) resendRefusal(row *domain.Verification, now time.Time, op string) error {
	switch {
	case row == nil || !row.IsActive(now):
		return apperr.E(apperr.NoActiveChallenge, op)
	case row.ResendCount >= e.cfg.MaxResends:
		return apperr.E(apperr.ResendLimitExceeded, op)
	case row.LastResend != nil && now.Before(row.LastResend.Add(e.cfg.ResendCooldown)):
		return apperr.E(apperr.ResendTooSoon, op)
	}
	return nil
}

// ChangeFactor invalidates every active challenge of the context, of either factor, and issues newFactor.
func (e *Engine) ChangeFactor(ctx context.Context, userID string, c domain.Context, newFactor domain.Factor) (ch *Challenge, err error) {
	const op = "verification.ChangeFactor"
	key := domain.Key{UserID: userID, Factor: newFactor, Context: c}
	ctx, span := e.startSpan(ctx, op, key)
	defer func() { endSpan(span, err) }()

	if err := e.checkSequence(ctx, key, op); err != nil {
		return nil, err
	}
	if _, err := e.repo.InvalidateContext(ctx, userID, c, e.clock.Now()); err != nil {
		return nil, apperr.Store(op, err)
	}
	return e.issue(ctx, key, nil)
}

// IsComplete reports whether a verified challenge exists for key. Completion is permanent.
func (e *Engine) IsComplete(ctx context.Context, key domain.Key) (bool, error) {
	ok, err := e.repo.IsVerified(ctx, key)
	if err != nil {
		return false, apperr.Store("verification.IsComplete", err)
	}
	return ok, nil
}

// NextStep returns the first factor of the plan that is not complete, or the step that follows
// a finished flow: COMPANY_DETAILS_REQUIRED for signup, COMPLETE otherwise.
func (e *Engine) NextStep(ctx context.Context, userID string, c domain.Context) (domain.NextStep, error) {
	plan, err := e.planner.Plan(ctx, c)
	if err != nil {
		return "", err
	}
	for _, f := range plan {
		done, err := e.IsComplete(ctx, domain.Key{UserID: userID, Factor: f, Context: c})
		if err != nil {
			return "", err
		}
		if !done {
			return domain.RequiredStep(f), nil
		}
	}
	if c == domain.ContextSignup {
		return domain.StepCompanyDetailsRequired, nil
	}
	return domain.StepComplete, nil
}

// Satisfied reports whether the current (unexpired) challenges of the context cover as many verified
// factors as the plan requires. Unlike IsComplete it ignores verifications from earlier rounds, so a
// login is only satisfied by codes issued for this login.
func (e *Engine) Satisfied(ctx context.Context, userID string, c domain.Context) (bool, error) {
	plan, err := e.planner.Plan(ctx, c)
	if err != nil {
		return false, err
	}
	now := e.clock.Now()
	verified := 0
	for _, f := range []domain.Factor{domain.FactorSMS, domain.FactorEmail} {
		row, err := e.repo.Current(ctx, domain.Key{UserID: userID, Factor: f, Context: c}, now)
		if err != nil {
			return false, apperr.Store("verification.Satisfied", err)
		}
		if row != nil && row.Verified {
			verified++
		}
	}
	return verified >= len(plan), nil
}

// RoundStep is NextStep for the current round only: COMPLETE once Satisfied, otherwise the step of
// the first plan factor without a current verified challenge. Login and password reset use it, since
// their completions from earlier rounds must not count.
func (e *Engine) RoundStep(ctx context.Context, userID string, c domain.Context) (domain.NextStep, error) {
	ok, err := e.Satisfied(ctx, userID, c)
	if err != nil {
		return "", err
	}
	if ok {
		return domain.StepComplete, nil
	}
	plan, err := e.planner.Plan(ctx, c)
	if err != nil {
		return "", err
	}
	now := e.clock.Now()
	for _, f := range plan {
		row, err := e.repo.Current(ctx, domain.Key{UserID: userID, Factor: f, Context: c}, now)
		if err != nil {
			return "", apperr.Store("verification.RoundStep", err)
		}
		if row == nil || !row.Verified {
			return domain.RequiredStep(f), nil
		}
	}
	return domain.StepComplete, nil
}

// InRound reports whether the current challenge for key is verified, that is whether key counts
// toward the round in progress.
func (e *Engine) InRound(ctx context.Context, key domain.Key) (bool, error) {
	row, err := e.repo.Current(ctx, key, e.clock.Now())
	if err != nil {
		return false, apperr.Store("verification.InRound", err)
	}
	return row != nil && row.Verified, nil
}

// Consume ends the current round of c, so the same codes cannot complete it again. It reports whether
// this call retired anything; of several callers racing on one round exactly one gets true.
// Permanent completion (IsComplete) is kept.
func (e *Engine) Consume(ctx context.Context, userID string, c domain.Context) (bool, error) {
	n, err := e.repo.ConsumeContext(ctx, userID, c, e.clock.Now())
	if err != nil {
		return false, apperr.Store("verification.Consume", err)
	}
	return n > 0, nil
}

// Plan returns the ordered factors of c.
func (e *Engine) Plan(ctx context.Context, c domain.Context) ([]domain.Factor, error) {
	return e.planner.Plan(ctx, c)
}

// checkSequence fails unless every factor before key.Factor in the plan is verified.
// A factor outside the plan (an alternate chosen through ChangeFactor) has no prerequisites.
func (e *Engine) checkSequence(ctx context.Context, key domain.Key, op string) error {
	plan, err := e.planner.Plan(ctx, key.Context)
	if err != nil {
		return err
	}
	idx := indexOf(plan, key.Factor)
	for _, f := range plan[:max(idx, 0)] {
		done, err := e.repo.IsVerified(ctx, domain.Key{UserID: key.UserID, Factor: f, Context: key.Context})
		if err != nil {
			return apperr.Store(op, err)
		}
		if !done {
			return apperr.E(apperr.SequenceViolation, op)
		}
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, key domain.Key) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("verification.factor", string(key.Factor)),
		attribute.String("verification.context", string(key.Context)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}

func indexOf(plan []domain.Factor, f domain.Factor) int {
	for i, p := range plan {
		if p == f {
			return i
		}
	}
	return -1
}
