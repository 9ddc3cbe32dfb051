// Package jwt mints and verifies the access/refresh token pair.
//
// # Tokens
//
// Both tokens are HS256 JWTs carrying {sub, email, type}. Access tokens
// live 15 minutes and refresh tokens 7 days by default. Each token gets a
// random jti so two tokens minted in the same second never collide; the
// device session registry keys rows on the refresh token hash.
//
// # Verification
//
// Signing always uses the active secret from a [KeySource]. Verification
// walks the source's verification set newest first and stops at the first
// secret whose signature checks out. The winning version is reported in
// [Verified]. A token whose type claim differs from the expected one is
// rejected even when its signature is valid.
//
// # What this package must NOT do
//
//   - Decide whether a session is revoked; see package session.
//   - Fetch or rotate secrets itself; see package secrets.
package jwt
