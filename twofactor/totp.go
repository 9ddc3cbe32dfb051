package twofactor

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sportsai/authcore/internal/randutil"
)

const secretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig holds RFC 6238 parameters. Algorithm is always SHA1, which is
// what authenticator apps assume.
type TOTPConfig struct {
	Issuer string
	Period int
	Digits int
	// Skew is how many periods either side of now are accepted.
	Skew int
}

// DefaultTOTPConfig is 6 digits every 30s with one step of skew.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{Issuer: "SportsAI", Period: 30, Digits: 6, Skew: 1}
}

// NewSecret returns a random base32 secret.
func NewSecret() (string, error) {
	raw, err := randutil.Bytes(secretBytes)
	if err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth URI scanned by authenticator apps.
func (c TOTPConfig) ProvisionURI(secret, account string) string {
	label := url.PathEscape(c.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", c.Issuer)
	v.Set("period", strconv.Itoa(c.Period))
	v.Set("digits", strconv.Itoa(c.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateCode returns the code for secret at t.
func (c TOTPConfig) GenerateCode(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, t.Unix()/int64(c.Period), c.Digits), nil
}

// Validate reports whether code matches secret within the skew window.
func (c TOTPConfig) Validate(secret, code string, now time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != c.Digits || !isNumeric(code) {
		return false, nil
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}

	base := now.Unix() / int64(c.Period)
	for step := -c.Skew; step <= c.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, counter, c.Digits)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
	if s == "" {
		return nil, errors.New("empty totp secret")
	}
	key, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return key, nil
}

func hotp(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
