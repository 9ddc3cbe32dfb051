package ratelimit

import "errors"

var (
	// ErrLimited is returned by callers that turn a refused Decision into an error.
	ErrLimited = errors.New("rate limited")
	// ErrLockedOut indicates the failed-login throttle is tripped for a key.
	ErrLockedOut = errors.New("login locked out")
	// ErrStoreUnavailable wraps backend failures from a bucket or lockout store.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidRule indicates a rule with non-positive capacity or refill rate.
	ErrInvalidRule = errors.New("invalid rate limit rule")
)
