package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/randutil"
	"github.com/sportsai/authcore/oauth"
)

// OAuthConfigured reports whether provider has client credentials.
func (e *Engine) OAuthConfigured(provider string) bool {
	return e.broker.Configured(provider)
}

// OAuthAuthorize returns the upstream authorization URL for provider.
func (e *Engine) OAuthAuthorize(ctx context.Context, provider string) (*OAuthAuthorizeResult, error) {
	res, err := e.broker.AuthURL(ctx, provider)
	if err != nil {
		return nil, e.oauthError(ctx, provider, err)
	}
	return &OAuthAuthorizeResult{URL: res.URL, State: res.State}, nil
}

// OAuthCallback completes a provider login. The state is consumed whether
// or not the rest of the flow succeeds.
func (e *Engine) OAuthCallback(ctx context.Context, provider, code, state string) (*OAuthCallbackResult, error) {
	res, err := e.broker.Callback(ctx, provider, code, state)
	if err != nil {
		e.metrics.Inc(MetricOAuthFailure)
		return nil, e.oauthError(ctx, provider, err)
	}

	user, err := e.users.FindUserByID(ctx, res.Account.ID)
	if err != nil {
		e.metrics.Inc(MetricOAuthFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, unauthorized(msgOAuthFailed, err)
		}
		return nil, unavailable("find user", err)
	}
	if !res.Linked && !res.Created && user.ProfilePictureURL == "" && res.Identity.Picture != "" {
		if err := e.users.LinkProvider(ctx, user.ID, res.Identity.Provider, res.Identity.Subject, res.Identity.Picture); err != nil {
			e.logger.Debug("profile picture fill failed", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			user.ProfilePictureURL = res.Identity.Picture
		}
	}

	tokens, err := e.completeLogin(ctx, user)
	if err != nil {
		return nil, err
	}
	if res.Created {
		e.metrics.Inc(MetricOAuthAccountCreated)
	}
	e.metrics.Inc(MetricOAuthSuccess)
	e.emitAudit(ctx, AuditOAuthCallback, true, user.ID, tokens.SessionID, nil, map[string]string{
		"provider": res.Identity.Provider,
		"created":  boolString(res.Created),
		"linked":   boolString(res.Linked),
	})
	return &OAuthCallbackResult{
		Tokens:   *tokens,
		Provider: res.Identity.Provider,
		Created:  res.Created,
		Linked:   res.Linked,
	}, nil
}

// oauthError maps broker errors. Provider detail stays in the logs and
// the audit trail; the caller gets a generic message.
func (e *Engine) oauthError(ctx context.Context, provider string, err error) error {
	e.emitAudit(ctx, AuditOAuthCallback, false, "", "", err, map[string]string{"provider": provider})
	switch {
	case errors.Is(err, oauth.ErrMissingParams):
		return badRequest(msgOAuthMissing, err)
	case errors.Is(err, oauth.ErrUnknownProvider), errors.Is(err, oauth.ErrNotConfigured):
		return badRequest("OAuth provider is not configured", err)
	case errors.Is(err, oauth.ErrStateInvalid):
		e.metrics.Inc(MetricOAuthStateRejected)
		return unauthorized(msgOAuthState, err)
	case errors.Is(err, oauth.ErrRedirectNotAllowed):
		return unauthorized(msgOAuthRedirect, err)
	case errors.Is(err, oauth.ErrStateStoreUnavailable), errors.Is(err, ErrStoreUnavailable):
		return unavailable("oauth", err)
	default:
		e.logger.Warn("oauth login failed", zap.String("provider", provider), zap.Error(err))
		return unauthorized(msgOAuthFailed, err)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// oauthAccounts adapts the user store to the broker.
type oauthAccounts struct {
	e *Engine
}

func accountOf(u *User) *oauth.Account {
	return &oauth.Account{ID: u.ID, Email: u.Email, ProfilePictureURL: u.ProfilePictureURL}
}

func (a oauthAccounts) lookup(u *User, err error) (*oauth.Account, error) {
	if errors.Is(err, ErrUserNotFound) {
		return nil, oauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return accountOf(u), nil
}

func (a oauthAccounts) FindByProvider(ctx context.Context, provider, subject string) (*oauth.Account, error) {
	return a.lookup(a.e.users.FindUserByProvider(ctx, provider, subject))
}

func (a oauthAccounts) FindByEmail(ctx context.Context, email string) (*oauth.Account, error) {
	return a.lookup(a.e.users.FindUserByEmail(ctx, normalizeEmail(email)))
}

func (a oauthAccounts) Link(ctx context.Context, accountID string, id oauth.Identity) error {
	return a.e.users.LinkProvider(ctx, accountID, id.Provider, id.Subject, id.Picture)
}

// Create stores a new account whose password hash is of a random secret
// nobody knows, so it can only sign in through the provider.
func (a oauthAccounts) Create(ctx context.Context, id oauth.Identity) (*oauth.Account, error) {
	secret, err := randutil.Hex(32)
	if err != nil {
		return nil, err
	}
	hash, err := a.e.hasher.Hash(secret)
	if err != nil {
		return nil, err
	}
	u := User{
		ID:                uuid.NewString(),
		Email:             normalizeEmail(id.Email),
		PasswordHash:      hash,
		ProfilePictureURL: id.Picture,
		SubscriptionTier:  defaultTier,
		Role:              defaultRole,
		CreatedAt:         a.e.clock.Now(),
	}
	switch id.Provider {
	case "google":
		u.GoogleID = id.Subject
	case "github":
		u.GitHubID = id.Subject
	}
	if err := a.e.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return accountOf(&u), nil
}
