// Package session tracks device sessions, one row per (user, refresh token).
//
// # Hashing
//
// The registry never sees a stored refresh token in plaintext. Every token
// is run through [HashToken] (SHA-256, hex) before it reaches the [Store],
// both on write and on lookup, so lookups are exact matches on the hash.
//
// # Compatibility exception
//
// [Registry.IsValid] reports true for a hash with no row. Refresh tokens
// issued before session tracking existed have no row and must keep
// working until they expire. Every other unknown state is denied.
//
// # What this package must NOT do
//
//   - Verify token signatures; see package jwt.
//   - Lock rows itself. Concurrent updates to one row are settled by the
//     store's own transaction semantics.
package session
