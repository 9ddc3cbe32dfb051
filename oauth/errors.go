package oauth

import "errors"

var (
	// ErrStateInvalid covers unknown, expired and replayed states.
	ErrStateInvalid = errors.New("invalid or expired oauth state")
	// ErrMissingParams is returned when the callback lacks code or state.
	ErrMissingParams = errors.New("missing oauth callback parameters")
	// ErrRedirectNotAllowed means the recorded redirect URI is not in the
	// allow-list.
	ErrRedirectNotAllowed = errors.New("invalid redirect uri")
	ErrUnknownProvider    = errors.New("unknown oauth provider")
	// ErrNotConfigured means the provider has no client credentials.
	ErrNotConfigured = errors.New("oauth provider not configured")
	// ErrExchange wraps a failed or incomplete code exchange.
	ErrExchange = errors.New("oauth code exchange failed")
	// ErrIdentity wraps an identity that failed verification.
	ErrIdentity = errors.New("oauth identity rejected")
	// ErrNoVerifiedEmail is returned when the provider has no verified email
	// for the account.
	ErrNoVerifiedEmail = errors.New("no verified email on provider account")
	// ErrAccountNotFound is returned by Accounts lookups that miss.
	ErrAccountNotFound       = errors.New("account not found")
	ErrStateStoreUnavailable = errors.New("oauth state store unavailable")
)
