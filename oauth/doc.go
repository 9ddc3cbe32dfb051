// Package oauth runs provider login flows for Google (OIDC) and GitHub.
//
// A login attempt moves through:
//
//	url-issued -> callback -> state-validated -> code-exchanged ->
//	identity-verified -> account-resolved
//
// Session issuance happens in the caller once an account is resolved.
//
// State entries are single use. Broker.Callback removes the state before
// any other check, so a replayed callback always fails with
// ErrStateInvalid. Nonces bind Google ID tokens to the state that minted
// them.
//
// Provider HTTP failures are logged with their cause at Warn and returned
// as ErrExchange or ErrIdentity. Raw provider errors are never surfaced to
// the end user.
package oauth
