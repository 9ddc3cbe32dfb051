package password

import "strings"

// Hasher is what the login path needs from a password scheme.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Multi hashes with Argon2id and verifies Argon2id or legacy bcrypt.
type Multi struct {
	current *Argon2
	legacy  *Bcrypt
}

var _ Hasher = (*Multi)(nil)

// NewMulti returns a hasher writing Argon2id with cfg.
func NewMulti(cfg Config) (*Multi, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Multi{current: a, legacy: NewBcrypt(10)}, nil
}

// Hash always produces Argon2id.
func (m *Multi) Hash(password string) (string, error) {
	return m.current.Hash(password)
}

// Verify dispatches on the hash prefix.
func (m *Multi) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, argon2Prefix):
		return m.current.Verify(password, encoded)
	case isBcrypt(encoded):
		return m.legacy.Verify(password, encoded)
	default:
		return false, ErrMalformedHash
	}
}

// NeedsUpgrade is true for every bcrypt hash and for Argon2id hashes with
// weaker parameters.
func (m *Multi) NeedsUpgrade(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	return m.current.NeedsUpgrade(encoded)
}
