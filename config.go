package authcore

import (
	"errors"
	"time"

	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/ratelimit"
)

// Config is the full engine configuration. Start from DefaultConfig.
type Config struct {
	Tokens    TokensConfig
	Rotation  RotationConfig
	Session   SessionConfig
	TwoFactor TwoFactorConfig
	OAuth     OAuthConfig
	RateLimit RateLimitConfig
	Lockout   ratelimit.LockoutConfig
	Password  PasswordConfig
	Locale    LocaleConfig
	Metrics   MetricsConfig
	Audit     AuditConfig
}

type TokensConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Issuer is written to and required in the iss claim when set.
	Issuer string
	Leeway time.Duration
}

type RotationConfig struct {
	// FallbackSecret signs and verifies while the secret store is down or
	// empty, and seeds version 1.
	FallbackSecret   string
	Interval         time.Duration
	TransitionPeriod time.Duration
	RenewBefore      time.Duration
	MaxHistory       int
	CacheTTL         time.Duration
	// CheckInterval is how often Run checks for rotation.
	CheckInterval time.Duration
}

type SessionConfig struct {
	TTL              time.Duration
	RevokedRetention time.Duration
	CleanupInterval  time.Duration
}

type TwoFactorConfig struct {
	Issuer string
	Skew   int
	QRSize int
}

// ProviderCredentials are the client settings of one OAuth provider. A
// provider with no ClientID is not configured.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

type OAuthConfig struct {
	Google ProviderCredentials
	GitHub ProviderCredentials
	// GitHubAPIBase overrides https://api.github.com.
	GitHubAPIBase    string
	AllowedRedirects []string
	StateTTL         time.Duration
	SweepInterval    time.Duration
	HTTPTimeout      time.Duration
}

type RateLimitConfig struct {
	Table         ratelimit.Table
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type PasswordConfig struct {
	Argon2 password.Config
	Policy password.Policy
	// ResetTTL is the lifetime of a password reset token.
	ResetTTL time.Duration
	// UpgradeOnLogin rehashes legacy or weaker hashes after a successful
	// password login.
	UpgradeOnLogin bool
}

type LocaleConfig struct {
	// Disabled turns language auto-detection off.
	Disabled       bool
	LookupURL      string
	Timeout        time.Duration
	DevCountryCode string
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns production defaults: 15 minute access tokens,
// 7 day refresh tokens and sessions, 90 day rotation with a 7 day
// transition, and 1 hour reset tokens.
func DefaultConfig() Config {
	return Config{
		Tokens: TokensConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Rotation: RotationConfig{
			Interval:         90 * 24 * time.Hour,
			TransitionPeriod: 7 * 24 * time.Hour,
			RenewBefore:      7 * 24 * time.Hour,
			MaxHistory:       3,
			CacheTTL:         5 * time.Minute,
			CheckInterval:    24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:              7 * 24 * time.Hour,
			RevokedRetention: 30 * 24 * time.Hour,
			CleanupInterval:  time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "SportsAI",
			Skew:   1,
			QRSize: 256,
		},
		OAuth: OAuthConfig{
			StateTTL:      10 * time.Minute,
			SweepInterval: time.Minute,
			HTTPTimeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Table:         ratelimit.DefaultTable(),
			IdleTTL:       ratelimit.DefaultIdleTTL,
			SweepInterval: 5 * time.Minute,
		},
		Lockout: ratelimit.DefaultLockoutConfig(),
		Password: PasswordConfig{
			Argon2:         password.DefaultConfig(),
			Policy:         password.DefaultPolicy(),
			ResetTTL:       time.Hour,
			UpgradeOnLogin: true,
		},
		Locale: LocaleConfig{
			Timeout: 3 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate rejects unusable values.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL < c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be >= AccessTTL")
	}
	if c.Tokens.Leeway < 0 || c.Tokens.Leeway > 2*time.Minute {
		return errors.New("Tokens Leeway must be within [0, 2m]")
	}

	// Rotation
	if c.Rotation.Interval <= 0 || c.Rotation.TransitionPeriod <= 0 {
		return errors.New("Rotation Interval and TransitionPeriod must be > 0")
	}
	if c.Rotation.RenewBefore <= 0 || c.Rotation.RenewBefore >= c.Rotation.Interval {
		return errors.New("Rotation RenewBefore must be > 0 and shorter than Interval")
	}
	if c.Rotation.MaxHistory < 1 {
		return errors.New("Rotation MaxHistory must be >= 1")
	}
	if c.Rotation.CacheTTL < 0 {
		return errors.New("Rotation CacheTTL must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	// A session row must outlive the refresh token it tracks, or cleanup
	// drops the revocation while the token still verifies.
	if c.Session.TTL < c.Tokens.RefreshTTL {
		return errors.New("Session TTL must be >= Tokens RefreshTTL")
	}
	if c.Session.RevokedRetention < c.Tokens.RefreshTTL {
		return errors.New("Session RevokedRetention must be >= Tokens RefreshTTL")
	}

	// Two-factor
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("TwoFactor Skew must be within [0, 3]")
	}

	// OAuth
	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}

	// Rate limiting
	if err := c.RateLimit.Table.Validate(); err != nil {
		return err
	}
	if c.Lockout.MaxAttempts < 1 || c.Lockout.Window <= 0 || c.Lockout.Lockout <= 0 {
		return errors.New("Lockout MaxAttempts, Window and Lockout must be > 0")
	}

	// Password
	if err := c.Password.Argon2.Validate(); err != nil {
		return err
	}
	if c.Password.Policy.MinLength < 8 {
		return errors.New("Password Policy MinLength must be >= 8")
	}
	if c.Password.ResetTTL <= 0 {
		return errors.New("Password ResetTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
