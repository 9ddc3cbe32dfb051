// Package twofactor implements TOTP two-factor authentication with
// single-use backup codes.
//
// A profile moves disabled -> pending -> enabled -> disabled:
//
//   - GenerateSecret stores an unconfirmed secret and returns it with a
//     provisioning QR code.
//   - VerifyAndEnable confirms the pending secret with a current code and
//     issues the backup code set.
//   - Disable and RegenerateBackupCodes require a valid code.
//
// Backup codes are stored only as hashes salted with the user id. A code is
// removed by the store in the same call that matches it, so two concurrent
// logins cannot both spend it.
//
// Precondition failures (ErrAlreadyEnabled, ErrNotEnabled,
// ErrNoPendingSecret) are distinct from ErrInvalidCode so callers can tell
// "not set up" from "wrong code".
package twofactor
