package authcore

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/audit"
	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/jwt"
	"github.com/sportsai/authcore/locale"
	"github.com/sportsai/authcore/oauth"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/ratelimit"
	"github.com/sportsai/authcore/secrets"
	"github.com/sportsai/authcore/session"
	"github.com/sportsai/authcore/twofactor"
)

// Builder assembles an Engine. A Builder builds at most once.
type Builder struct {
	config Config

	users          UserStore
	prefs          PreferenceStore
	resets         ResetStore
	sessionStore   session.Store
	twoFactorStore twofactor.Store
	secretStore    secrets.Store

	redis        redis.UniversalClient
	bucketStore  ratelimit.Store
	lockoutStore ratelimit.LockoutStore
	stateStore   oauth.StateStore

	providers  []oauth.Provider
	hasher     password.Hasher
	auditSink  AuditSink
	httpClient *http.Client
	clock      clock.Clock
	logger     *zap.Logger

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore uses one credential store for every durable entity.
func (b *Builder) WithStore(s Store) *Builder {
	b.users = s
	b.prefs = s
	b.resets = s
	b.sessionStore = s
	b.twoFactorStore = s
	b.secretStore = s
	return b
}

func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

// WithPreferenceStore enables language auto-detection on login.
func (b *Builder) WithPreferenceStore(s PreferenceStore) *Builder {
	b.prefs = s
	return b
}

func (b *Builder) WithResetStore(s ResetStore) *Builder {
	b.resets = s
	return b
}

func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessionStore = s
	return b
}

func (b *Builder) WithTwoFactorStore(s twofactor.Store) *Builder {
	b.twoFactorStore = s
	return b
}

func (b *Builder) WithSecretStore(s secrets.Store) *Builder {
	b.secretStore = s
	return b
}

// WithRedis backs rate limit buckets, login throttles and OAuth states
// with Redis unless a specific store was set for them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithRateLimitStore(s ratelimit.Store) *Builder {
	b.bucketStore = s
	return b
}

func (b *Builder) WithLockoutStore(s ratelimit.LockoutStore) *Builder {
	b.lockoutStore = s
	return b
}

func (b *Builder) WithOAuthStateStore(s oauth.StateStore) *Builder {
	b.stateStore = s
	return b
}

// WithOAuthProviders replaces the providers built from Config.OAuth.
func (b *Builder) WithOAuthProviders(p ...oauth.Provider) *Builder {
	b.providers = append([]oauth.Provider(nil), p...)
	return b
}

func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditSink sets the audit destination. The default is a zap sink on
// the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithHTTPClient is used for OAuth provider and geo lookup calls.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.resets == nil {
		return nil, errors.New("reset store required")
	}
	if b.sessionStore == nil {
		return nil, errors.New("session store required")
	}
	if b.twoFactorStore == nil {
		return nil, errors.New("two-factor store required")
	}
	if b.secretStore == nil {
		return nil, errors.New("signing secret store required")
	}

	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:  cfg,
		users:   b.users,
		prefs:   b.prefs,
		resets:  b.resets,
		metrics: NewMetrics(cfg.Metrics),
		clock:   clk,
		logger:  logger,
	}

	// -------- SIGNING SECRETS --------
	rotator, err := secrets.NewRotator(b.secretStore, secrets.Config{
		RotationInterval: cfg.Rotation.Interval,
		TransitionPeriod: cfg.Rotation.TransitionPeriod,
		RenewBefore:      cfg.Rotation.RenewBefore,
		MaxHistory:       cfg.Rotation.MaxHistory,
		CacheTTL:         cfg.Rotation.CacheTTL,
		Fallback:         []byte(cfg.Rotation.FallbackSecret),
		OnRotate:         e.onRotate,
		Clock:            clk,
		Logger:           logger.Named("secrets"),
	})
	if err != nil {
		return nil, err
	}
	e.rotator = rotator

	issuer, err := jwt.NewIssuer(rotator, jwt.Config{
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
		Issuer:     cfg.Tokens.Issuer,
		Leeway:     cfg.Tokens.Leeway,
		Clock:      clk,
	})
	if err != nil {
		return nil, err
	}
	e.issuer = issuer

	// -------- SESSIONS AND TWO-FACTOR --------
	e.sessions = session.NewRegistry(b.sessionStore, session.Config{
		TTL:              cfg.Session.TTL,
		RevokedRetention: cfg.Session.RevokedRetention,
		Clock:            clk,
		Logger:           logger.Named("session"),
	})

	totp := twofactor.DefaultTOTPConfig()
	totp.Issuer = cfg.TwoFactor.Issuer
	totp.Skew = cfg.TwoFactor.Skew
	e.twoFactor = twofactor.NewAuthenticator(b.twoFactorStore, twofactor.Config{
		TOTP:   totp,
		QRSize: cfg.TwoFactor.QRSize,
		Clock:  clk,
		Logger: logger.Named("twofactor"),
	})

	// -------- RATE LIMITING --------
	bucketStore, lockoutStore, stateStore := b.bucketStore, b.lockoutStore, b.stateStore
	if b.redis != nil {
		if bucketStore == nil {
			bucketStore = ratelimit.NewRedisStore(b.redis, cfg.RateLimit.IdleTTL)
		}
		if lockoutStore == nil {
			lockoutStore = ratelimit.NewRedisLockoutStore(b.redis)
		}
		if stateStore == nil {
			stateStore = oauth.NewRedisStateStore(b.redis)
		}
	}
	if bucketStore == nil {
		bucketStore = ratelimit.NewMemoryStore()
	}
	if lockoutStore == nil {
		lockoutStore = ratelimit.NewMemoryLockoutStore()
	}
	if stateStore == nil {
		stateStore = oauth.NewMemoryStateStore(clk)
	}

	limiter, err := ratelimit.NewLimiter(bucketStore, ratelimit.Config{
		Table:   cfg.RateLimit.Table,
		IdleTTL: cfg.RateLimit.IdleTTL,
		Clock:   clk,
		Logger:  logger.Named("ratelimit"),
	})
	if err != nil {
		return nil, err
	}
	e.limiter = limiter
	e.loginThrottle = ratelimit.NewLoginThrottle(lockoutStore, cfg.Lockout, clk)
	e.twoFactorGuard = ratelimit.NewLoginThrottle(lockoutStore, cfg.Lockout, clk)

	// -------- PASSWORDS --------
	e.hasher = b.hasher
	if e.hasher == nil {
		multi, err := password.NewMulti(cfg.Password.Argon2)
		if err != nil {
			return nil, err
		}
		e.hasher = multi
	}

	// -------- OAUTH --------
	providers := b.providers
	if providers == nil {
		providers = []oauth.Provider{
			oauth.NewGoogleProvider(providerConfig(cfg.OAuth.Google, cfg.OAuth, b.httpClient), clk),
			oauth.NewGitHubProvider(providerConfig(cfg.OAuth.GitHub, cfg.OAuth, b.httpClient), cfg.OAuth.GitHubAPIBase),
		}
	}
	e.states = stateStore
	e.broker = oauth.NewBroker(stateStore, oauthAccounts{e: e}, oauth.BrokerConfig{
		AllowedRedirects: cfg.OAuth.AllowedRedirects,
		StateTTL:         cfg.OAuth.StateTTL,
		Clock:            clk,
		Logger:           logger.Named("oauth"),
	}, providers...)

	// -------- LOCALE --------
	if !cfg.Locale.Disabled && b.prefs != nil {
		e.detector = locale.NewDetector(locale.DetectorConfig{
			BaseURL:        cfg.Locale.LookupURL,
			Timeout:        cfg.Locale.Timeout,
			DevCountryCode: cfg.Locale.DevCountryCode,
			HTTPClient:     b.httpClient,
			Logger:         logger.Named("locale"),
		})
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	b.built = true
	return e, nil
}

func providerConfig(creds ProviderCredentials, cfg OAuthConfig, client *http.Client) oauth.ProviderConfig {
	return oauth.ProviderConfig{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.CallbackURL,
		HTTPTimeout:  cfg.HTTPTimeout,
		HTTPClient:   client,
	}
}
