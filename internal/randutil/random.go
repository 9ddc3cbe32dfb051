// Package randutil produces opaque tokens from crypto/rand.
package randutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// Bytes returns n random bytes.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Hex returns n random bytes, hex encoded (2n characters).
func Hex(n int) (string, error) {
	b, err := Bytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SHA256Hex is the one-way hash used for every token the module persists.
func SHA256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
