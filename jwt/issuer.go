package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/secrets"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrTokenInvalid covers malformed, expired and badly signed tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrWrongTokenType is returned when a validly signed token carries the
	// other type claim.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrSecretsExhausted means no secret in the verification set matched
	// the signature.
	ErrSecretsExhausted = errors.New("no signing secret verified token")
	// ErrInvalidConfig reports an unusable issuer configuration.
	ErrInvalidConfig = errors.New("invalid token issuer config")
)

// KeySource supplies signing and verification secrets.
type KeySource interface {
	ActiveSecret(ctx context.Context) secrets.Versioned
	ActiveSecrets(ctx context.Context) []secrets.Versioned
}

// Claims is the payload of both token types.
type Claims struct {
	Email string    `json:"email"`
	Type  TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Verified is a token whose signature checked out against SecretVersion.
type Verified struct {
	Claims        *Claims
	SecretVersion int
}

// Config configures an Issuer.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Issuer is written to iss and required on verification when set.
	Issuer string
	Leeway time.Duration
	Clock  clock.Clock
}

// DefaultConfig is 15 minute access tokens and 7 day refresh tokens.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// Issuer mints and verifies tokens against a rotating secret set.
type Issuer struct {
	keys   KeySource
	config Config
	clock  clock.Clock
}

// NewIssuer validates cfg and returns an issuer over keys.
func NewIssuer(keys KeySource, cfg Config) (*Issuer, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: nil key source", ErrInvalidConfig)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrInvalidConfig)
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, fmt.Errorf("%w: refresh lifetime shorter than access lifetime", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway out of range", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Issuer{keys: keys, config: cfg, clock: cfg.Clock}, nil
}

// AccessTTL is the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL is the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

// Issue mints a fresh access/refresh pair for userID, both signed with the
// active secret.
func (i *Issuer) Issue(ctx context.Context, userID, email string) (TokenPair, error) {
	key := i.keys.ActiveSecret(ctx)
	now := i.clock.Now()

	access, accessExp, err := i.sign(key, userID, email, TypeAccess, now, i.config.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(key, userID, email, TypeRefresh, now, i.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int(i.config.AccessTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(key secrets.Versioned, userID, email string, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Email: email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = strconv.Itoa(key.Version)

	signed, err := token.SignedString(key.Material)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and type. The token must be of type want.
func (i *Issuer) Verify(ctx context.Context, token string, want TokenType) (*Verified, error) {
	v, err := firstVerified(i.keys.ActiveSecrets(ctx), func(key secrets.Versioned) (*Claims, error) {
		return i.parse(token, key.Material)
	})
	if err != nil {
		return nil, err
	}
	if v.Claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return v, nil
}

// VerifyAccess is Verify(ctx, token, TypeAccess).
func (i *Issuer) VerifyAccess(ctx context.Context, token string) (*Verified, error) {
	return i.Verify(ctx, token, TypeAccess)
}

// VerifyRefresh is Verify(ctx, token, TypeRefresh).
func (i *Issuer) VerifyRefresh(ctx context.Context, token string) (*Verified, error) {
	return i.Verify(ctx, token, TypeRefresh)
}

func (i *Issuer) parse(token string, material []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return material, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// firstVerified tries each secret in order and returns the first success.
// Only a signature mismatch moves on to the next secret; any other failure
// (malformed, expired) is final because no other secret can fix it.
func firstVerified(set []secrets.Versioned, try func(secrets.Versioned) (*Claims, error)) (*Verified, error) {
	for _, key := range set {
		claims, err := try(key)
		if err == nil {
			return &Verified{Claims: claims, SecretVersion: key.Version}, nil
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			continue
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrSecretsExhausted)
}
