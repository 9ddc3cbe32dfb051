package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Store contract errors. Implementations of the store interfaces return
// these so the engine can tell a miss from an outage.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrResetTokenNotFound = errors.New("password reset token not found")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
)

// Kind classifies an engine failure.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindTooManyRequests
	KindBadRequest
	KindConflict
	KindNotFound
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the only error type Engine methods return. Message is safe to
// show to the caller; Err holds the internal cause for logs.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind onto a response status. Conflict reports 400.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthorized, KindNotFound:
		return http.StatusUnauthorized
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindBadRequest, KindConflict:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// RetryAfterOf returns the retry hint carried by err in seconds.
func RetryAfterOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// User-facing messages.
const (
	msgInvalidCredentials = "Invalid credentials"
	msgTwoFactorRequired  = "Two-factor authentication required"
	msgSessionRevoked     = "Session has been revoked. Please login again."
	msgRefreshInvalid     = "Refresh token expired or invalid. Please login again."
	msgAccountLocked      = "Account temporarily locked due to too many failed login attempts. Please try again later."
	msgUserNotFound       = "User not found"
	msgEmailTaken         = "Email already registered"
	msgTwoFactorEnabled   = "Two-factor authentication is already enabled"
	msgNoPendingSecret    = "Please generate a 2FA secret first"
	msgInvalidCode        = "Invalid verification code"
	msgTwoFactorDisabled  = "Two-factor authentication is not enabled"
	msgTwoFactorChanged   = "Two-factor settings changed. Please try again."
	msgOAuthState         = "Invalid or expired OAuth state. Please try again."
	msgOAuthRedirect      = "Invalid redirect URI"
	msgOAuthFailed        = "OAuth login failed"
	msgOAuthMissing       = "Missing code or state"
	msgResetGeneric       = "If an account with that email exists, a password reset link has been sent."
	msgResetInvalid       = "Invalid or expired reset token"
	msgPasswordIncorrect  = "Current password is incorrect"
	msgPasswordSame       = "New password must be different from the current password"
	msgSessionNotFound    = "Session not found"
	msgUnavailable        = "Service temporarily unavailable"
	msgInvalidToken       = "Invalid or expired token"
)

func msgTooManyAttempts(retryAfter int) string {
	return "Too many failed login attempts. Please try again in " + strconv.Itoa(retryAfter) + " seconds."
}

func unauthorized(msg string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Err: cause}
}

func badRequest(msg string, cause error) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Err: cause}
}

func tooManyRequests(msg string, retryAfter int) *Error {
	return &Error{Kind: KindTooManyRequests, Message: msg, RetryAfter: retryAfter}
}

func unavailable(op string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: msgUnavailable, Err: fmt.Errorf("%s: %w", op, cause)}
}
