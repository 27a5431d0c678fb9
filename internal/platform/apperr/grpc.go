package apperr

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps a failure to the gRPC status code a handler should return.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	switch KindOf(err) {
	case InvalidCredentials, InvalidOrExpiredRefreshToken, TokenMalformed, TokenExpired,
		SignatureInvalid, SubjectMismatch:
		return codes.Unauthenticated
	case SequenceViolation, NoActiveChallenge:
		return codes.FailedPrecondition
	case AttemptsExceeded, ResendLimitExceeded, ResendTooSoon:
		return codes.ResourceExhausted
	case InvalidOtp:
		return codes.InvalidArgument
	case SessionNotFound:
		return codes.NotFound
	case StoreUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// GRPCStatus converts err into a status error. Unknown failures hide their cause.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	code := GRPCCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
