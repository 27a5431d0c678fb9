package domain

import (
	"fmt"
	"time"
)

// Factor is a verification channel.
type Factor string

const (
	FactorSMS   Factor = "SMS"
	FactorEmail Factor = "EMAIL"
)

// Context is the business flow a challenge is tied to.
type Context string

const (
	ContextSignup        Context = "SIGNUP"
	ContextLogin         Context = "LOGIN"
	ContextPasswordReset Context = "PASSWORD_RESET"
)

// ParseFactor converts a boundary string to a Factor.
func ParseFactor(s string) (Factor, error) {
	switch f := Factor(s); f {
	case FactorSMS, FactorEmail:
		return f, nil
	}
	return "", fmt.Errorf("unknown verification factor %q", s)
}

// ParseContext converts a boundary string to a Context.
func ParseContext(s string) (Context, error) {
	switch c := Context(s); c {
	case ContextSignup, ContextLogin, ContextPasswordReset:
		return c, nil
	}
	return "", fmt.Errorf("unknown verification context %q", s)
}

// Key identifies the challenge slot. At most one active row exists per key.
type Key struct {
	UserID  string
	Factor  Factor
	Context Context
}

func (k Key) String() string {
	return k.UserID + "/" + string(k.Context) + "/" + string(k.Factor)
}

// Verification is one OTP challenge. Rows are invalidated by moving ExpiresAt into the past, never deleted.
type Verification struct {
	ID           string
	UserID       string
	Factor       Factor
	Context      Context
	OTPHash      string
	ExpiresAt    time.Time
	Verified     bool
	VerifiedAt   *time.Time
	AttemptCount int
	ResendCount  int
	LastResend   *time.Time // nil until the first resend
	CreatedAt    time.Time
}

// Key returns the row's challenge slot.
func (v *Verification) Key() Key {
	return Key{UserID: v.UserID, Factor: v.Factor, Context: v.Context}
}

// IsActive reports whether the row can still be verified or resent.
func (v *Verification) IsActive(now time.Time) bool {
	return !v.Verified && v.ExpiresAt.After(now)
}

// NextStep tells the caller which step of a flow comes next.
type NextStep string

const (
	StepSMSRequired            NextStep = "SMS_REQUIRED"
	StepEmailRequired          NextStep = "EMAIL_REQUIRED"
	StepCompanyDetailsRequired NextStep = "COMPANY_DETAILS_REQUIRED"
	StepComplete               NextStep = "COMPLETE"
)

// RequiredStep returns the NextStep that asks for f.
func RequiredStep(f Factor) NextStep {
	if f == FactorSMS {
		return StepSMSRequired
	}
	return StepEmailRequired
}
