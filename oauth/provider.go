package oauth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Identity is a verified provider account.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Picture  string
}

// Provider is one upstream identity provider.
type Provider interface {
	Name() string
	// Configured reports whether client credentials are present.
	Configured() bool
	RedirectURL() string
	// UsesNonce is true for OIDC providers that echo a nonce in the ID token.
	UsesNonce() bool
	AuthCodeURL(state, nonce string) string
	// Identify exchanges code and verifies the resulting identity. nonce is
	// empty for providers that do not use one.
	Identify(ctx context.Context, code, nonce string) (*Identity, error)
}

// ProviderConfig is shared by the built-in providers.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the provider's default OAuth endpoints.
	Endpoint oauth2.Endpoint
	// HTTPTimeout bounds every provider call. Zero means 10s.
	HTTPTimeout time.Duration
	HTTPClient  *http.Client
}

func (c ProviderConfig) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c ProviderConfig) oauth2Config(def oauth2.Endpoint, scopes ...string) *oauth2.Config {
	ep := def
	if c.Endpoint.AuthURL != "" {
		ep.AuthURL = c.Endpoint.AuthURL
	}
	if c.Endpoint.TokenURL != "" {
		ep.TokenURL = c.Endpoint.TokenURL
	}
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint:     ep,
		Scopes:       scopes,
	}
}
