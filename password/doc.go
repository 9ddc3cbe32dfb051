// Package password hashes and verifies user passwords.
//
// # Formats
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts created before the switch carry bcrypt hashes ($2a$/$2b$/$2y$).
// [Multi] verifies both and reports bcrypt hashes, or Argon2id hashes with
// weaker parameters, through NeedsUpgrade so the caller can re-hash after
// the next successful login.
//
// [Policy] holds the complexity rules applied to user-chosen passwords.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Log plaintext passwords or hashes.
package password
