// Package secrets manages the versioned set of symmetric signing secrets.
//
// # Lifecycle
//
// Exactly one secret is active and signs new tokens. [Rotator.Rotate]
// creates version current+1 first and only then deactivates the previous
// row, so a concurrent reader never sees zero active secrets. A rotated-out
// secret keeps verifying tokens for the transition period. The verification
// set returned by [Rotator.ActiveSecrets] is newest first and capped at
// MaxHistory.
//
// [Rotator.Run] checks once per interval (one day by default) and rotates
// when the active secret is within RenewBefore of its expiry.
//
// # Degraded mode
//
// When the store is unreachable or empty, signing and verification use the
// configured fallback material (reported as version 0). Initialize seeds
// version 1 with the same material, so tokens minted in degraded mode keep
// verifying once the store comes back.
//
// # What this package must NOT do
//
//   - Parse or sign tokens; see package jwt.
//   - Log secret material.
package secrets
