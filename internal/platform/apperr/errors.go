// Package apperr defines the typed failures returned by the session, verification and token code paths.
// Callers branch on Kind (or errors.Is against the Err* values) instead of matching strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an expected business failure.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidCredentials
	SequenceViolation
	NoActiveChallenge
	AttemptsExceeded
	ResendLimitExceeded
	ResendTooSoon
	InvalidOtp
	InvalidOrExpiredRefreshToken
	TokenMalformed
	TokenExpired
	SignatureInvalid
	SubjectMismatch
	MaxSessionsExceeded
	SessionNotFound
	StoreUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:                  "unknown",
	InvalidCredentials:           "invalid credentials",
	SequenceViolation:            "factor requested out of order",
	NoActiveChallenge:            "no active challenge",
	AttemptsExceeded:             "verification attempts exceeded",
	ResendLimitExceeded:          "resend limit exceeded",
	ResendTooSoon:                "resend requested too soon",
	InvalidOtp:                   "invalid otp",
	InvalidOrExpiredRefreshToken: "invalid or expired refresh token",
	TokenMalformed:               "token malformed",
	TokenExpired:                 "token expired",
	SignatureInvalid:             "token signature invalid",
	SubjectMismatch:              "token subject mismatch",
	MaxSessionsExceeded:          "max sessions exceeded",
	SessionNotFound:              "session not found",
	StoreUnavailable:             "store unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the concrete failure type. RemainingAttempts is only meaningful for InvalidOtp.
type Error struct {
	Kind              Kind
	Op                string
	RemainingAttempts int
	Err               error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == InvalidOtp {
		msg = fmt.Sprintf("%s (%d attempts remaining)", msg, e.RemainingAttempts)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so errors.Is(err, apperr.ErrInvalidOtp) works
// regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Comparison values for errors.Is.
var (
	ErrInvalidCredentials           = &Error{Kind: InvalidCredentials}
	ErrSequenceViolation            = &Error{Kind: SequenceViolation}
	ErrNoActiveChallenge            = &Error{Kind: NoActiveChallenge}
	ErrAttemptsExceeded             = &Error{Kind: AttemptsExceeded}
	ErrResendLimitExceeded          = &Error{Kind: ResendLimitExceeded}
	ErrResendTooSoon                = &Error{Kind: ResendTooSoon}
	ErrInvalidOtp                   = &Error{Kind: InvalidOtp}
	ErrInvalidOrExpiredRefreshToken = &Error{Kind: InvalidOrExpiredRefreshToken}
	ErrTokenMalformed               = &Error{Kind: TokenMalformed}
	ErrTokenExpired                 = &Error{Kind: TokenExpired}
	ErrSignatureInvalid             = &Error{Kind: SignatureInvalid}
	ErrSubjectMismatch              = &Error{Kind: SubjectMismatch}
	ErrMaxSessionsExceeded          = &Error{Kind: MaxSessionsExceeded}
	ErrSessionNotFound              = &Error{Kind: SessionNotFound}
	ErrStoreUnavailable             = &Error{Kind: StoreUnavailable}
)

// E returns a new failure of the given kind.
func E(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap returns a failure of the given kind carrying err as its cause. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Store wraps a persistence failure as StoreUnavailable unless it already carries a kind.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: StoreUnavailable, Op: op, Err: err}
}

// InvalidOtpRemaining returns an InvalidOtp failure reporting how many attempts are left.
func InvalidOtpRemaining(op string, remaining int) *Error {
	if remaining < 0 {
		remaining = 0
	}
	return &Error{Kind: InvalidOtp, Op: op, RemainingAttempts: remaining}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// RemainingAttempts returns the remaining attempts of an InvalidOtp failure.
func RemainingAttempts(err error) (int, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == InvalidOtp {
		return ae.RemainingAttempts, true
	}
	return 0, false
}

// Retryable reports whether the caller may retry. Only StoreUnavailable is transient.
func Retryable(err error) bool {
	return KindOf(err) == StoreUnavailable
}
