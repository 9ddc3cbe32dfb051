package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	githubAPI       = "https://api.github.com"
	githubUserAgent = "SportsAI-App"
)

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider is the plain OAuth 2.0 login against GitHub. Identity comes
// from the REST API rather than an ID token.
type GitHubProvider struct {
	cfg     ProviderConfig
	oauth   *oauth2.Config
	client  *http.Client
	apiBase string
}

// NewGitHubProvider returns a provider using cfg. apiBase overrides the REST
// API root and may be empty.
func NewGitHubProvider(cfg ProviderConfig, apiBase string) *GitHubProvider {
	if apiBase == "" {
		apiBase = githubAPI
	}
	return &GitHubProvider{
		cfg:     cfg,
		oauth:   cfg.oauth2Config(github.Endpoint, "read:user", "user:email"),
		client:  cfg.client(),
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

func (g *GitHubProvider) Name() string        { return "github" }
func (g *GitHubProvider) UsesNonce() bool     { return false }
func (g *GitHubProvider) RedirectURL() string { return g.cfg.RedirectURL }

func (g *GitHubProvider) Configured() bool {
	return g.cfg.ClientID != "" && g.cfg.ClientSecret != ""
}

func (g *GitHubProvider) AuthCodeURL(state, _ string) string {
	return g.oauth.AuthCodeURL(state)
}

// Identify exchanges code, then reads the profile and, when the profile has
// no public email, the verified email list.
func (g *GitHubProvider) Identify(ctx context.Context, code, _ string) (*Identity, error) {
	tok, err := g.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, g.client), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access token", ErrExchange)
	}

	var user githubUser
	if err := g.get(ctx, tok.AccessToken, "/user", &user); err != nil {
		return nil, fmt.Errorf("%w: fetch profile: %v", ErrIdentity, err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: profile missing id", ErrIdentity)
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := g.get(ctx, tok.AccessToken, "/user/emails", &emails); err != nil {
			return nil, fmt.Errorf("%w: fetch emails: %v", ErrIdentity, err)
		}
		email = pickVerifiedEmail(emails)
		if email == "" {
			return nil, ErrNoVerifiedEmail
		}
	}

	return &Identity{
		Provider: g.Name(),
		Subject:  strconv.FormatInt(user.ID, 10),
		Email:    email,
		Picture:  user.AvatarURL,
	}, nil
}

func (g *GitHubProvider) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", githubUserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pickVerifiedEmail prefers the primary verified address, then any verified
// one.
func pickVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}
