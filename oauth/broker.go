package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/internal/randutil"
)

// Account is the local user a provider identity resolved to.
type Account struct {
	ID                string
	Email             string
	ProfilePictureURL string
}

// Accounts is the slice of the user store the broker needs.
type Accounts interface {
	// FindByProvider looks up by provider subject id. Misses return
	// ErrAccountNotFound.
	FindByProvider(ctx context.Context, provider, subject string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// Link attaches the provider subject to an existing account and fills
	// its picture when it has none.
	Link(ctx context.Context, accountID string, id Identity) error
	// Create makes a new account for id that cannot log in by password.
	Create(ctx context.Context, id Identity) (*Account, error)
}

// AuthorizeResult is returned when an authorization URL is issued.
type AuthorizeResult struct {
	URL   string
	State string
}

// Resolution is the outcome of a successful callback.
type Resolution struct {
	Account  Account
	Identity Identity
	Created  bool
	Linked   bool
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// AllowedRedirects lists every redirect URI a state may carry. Each
	// provider's own RedirectURL is always allowed.
	AllowedRedirects []string
	StateTTL         time.Duration
	Clock            clock.Clock
	Logger           *zap.Logger
}

// Broker drives the provider login flow.
type Broker struct {
	providers map[string]Provider
	states    StateStore
	accounts  Accounts
	allowed   map[string]struct{}
	ttl       time.Duration
	clock     clock.Clock
	logger    *zap.Logger
}

// NewBroker returns a broker over the given providers.
func NewBroker(states StateStore, accounts Accounts, cfg BrokerConfig, providers ...Provider) *Broker {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if states == nil {
		states = NewMemoryStateStore(cfg.Clock)
	}

	b := &Broker{
		providers: make(map[string]Provider, len(providers)),
		states:    states,
		accounts:  accounts,
		allowed:   make(map[string]struct{}),
		ttl:       cfg.StateTTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
	for _, uri := range cfg.AllowedRedirects {
		if uri = strings.TrimSpace(uri); uri != "" {
			b.allowed[uri] = struct{}{}
		}
	}
	for _, p := range providers {
		b.providers[p.Name()] = p
		if p.RedirectURL() != "" {
			b.allowed[p.RedirectURL()] = struct{}{}
		}
	}
	return b
}

func (b *Broker) provider(name string) (Provider, error) {
	p, ok := b.providers[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownProvider
	}
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	return p, nil
}

// Configured reports whether the named provider can be used.
func (b *Broker) Configured(name string) bool {
	_, err := b.provider(name)
	return err == nil
}

// AuthURL mints a state (and a nonce for OIDC providers) and returns the
// upstream authorization URL.
func (b *Broker) AuthURL(ctx context.Context, providerName string) (AuthorizeResult, error) {
	p, err := b.provider(providerName)
	if err != nil {
		return AuthorizeResult{}, err
	}

	state, err := randutil.Hex(32)
	if err != nil {
		return AuthorizeResult{}, err
	}
	var nonce string
	if p.UsesNonce() {
		if nonce, err = randutil.Hex(32); err != nil {
			return AuthorizeResult{}, err
		}
	}

	err = b.states.Save(ctx, State{
		State:       state,
		Nonce:       nonce,
		Provider:    p.Name(),
		RedirectURI: p.RedirectURL(),
		CreatedAt:   b.clock.Now(),
	}, b.ttl)
	if err != nil {
		return AuthorizeResult{}, err
	}
	return AuthorizeResult{URL: p.AuthCodeURL(state, nonce), State: state}, nil
}

// Callback consumes state, verifies the provider identity behind code and
// resolves it to a local account.
func (b *Broker) Callback(ctx context.Context, providerName, code, state string) (*Resolution, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return nil, ErrMissingParams
	}
	stored, err := b.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}

	p, err := b.provider(providerName)
	if err != nil {
		return nil, err
	}
	if stored.Provider != p.Name() {
		return nil, ErrStateInvalid
	}
	if _, ok := b.allowed[stored.RedirectURI]; !ok {
		b.logger.Warn("oauth redirect not allowed",
			zap.String("provider", p.Name()),
			zap.String("redirect_uri", stored.RedirectURI),
		)
		return nil, ErrRedirectNotAllowed
	}

	id, err := p.Identify(ctx, code, stored.Nonce)
	if err != nil {
		b.logger.Warn("oauth identity failed", zap.String("provider", p.Name()), zap.Error(err))
		return nil, err
	}

	res, err := b.resolve(ctx, *id)
	if err != nil {
		return nil, err
	}
	b.logger.Info("oauth login",
		zap.String("provider", p.Name()),
		zap.String("user_id", res.Account.ID),
		zap.Bool("created", res.Created),
		zap.Bool("linked", res.Linked),
	)
	return res, nil
}

// resolve finds the account by provider subject, then by email. An email
// match is linked to the provider; no match creates a new account.
func (b *Broker) resolve(ctx context.Context, id Identity) (*Resolution, error) {
	acct, err := b.accounts.FindByProvider(ctx, id.Provider, id.Subject)
	if err == nil {
		return &Resolution{Account: *acct, Identity: id}, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	acct, err = b.accounts.FindByEmail(ctx, id.Email)
	switch {
	case err == nil:
		if err := b.accounts.Link(ctx, acct.ID, id); err != nil {
			return nil, fmt.Errorf("link %s account: %w", id.Provider, err)
		}
		if acct.ProfilePictureURL == "" {
			acct.ProfilePictureURL = id.Picture
		}
		return &Resolution{Account: *acct, Identity: id, Linked: true}, nil
	case errors.Is(err, ErrAccountNotFound):
		acct, err = b.accounts.Create(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("create %s account: %w", id.Provider, err)
		}
		return &Resolution{Account: *acct, Identity: id, Created: true}, nil
	default:
		return nil, err
	}
}
