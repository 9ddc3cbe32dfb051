package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newGitHubServer(t *testing.T, user map[string]any, emails []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_token", "token_type": "bearer", "scope": "read:user"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != githubUserAgent || r.Header.Get("Authorization") != "Bearer gho_token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(emails)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGitHub(srv *httptest.Server) *GitHubProvider {
	return NewGitHubProvider(ProviderConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "http://localhost:4000/v1/auth/github/callback",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/login/oauth/access_token"},
	}, srv.URL)
}

func TestGitHubPublicEmail(t *testing.T) {
	srv := newGitHubServer(t, map[string]any{"id": 42, "login": "octo", "email": "octo@example.com", "avatar_url": "https://a.example/42"}, nil)

	id, err := newTestGitHub(srv).Identify(context.Background(), "code", "")
	require.NoError(t, err)
	assert.Equal(t, "42", id.Subject)
	assert.Equal(t, "octo@example.com", id.Email)
	assert.Equal(t, "https://a.example/42", id.Picture)
}

func TestGitHubPrefersPrimaryVerifiedEmail(t *testing.T) {
	srv := newGitHubServer(t, map[string]any{"id": 7, "login": "octo"}, []map[string]any{
		{"email": "unverified@example.com", "primary": true, "verified": false},
		{"email": "second@example.com", "primary": false, "verified": true},
		{"email": "main@example.com", "primary": true, "verified": true},
	})

	id, err := newTestGitHub(srv).Identify(context.Background(), "code", "")
	require.NoError(t, err)
	assert.Equal(t, "main@example.com", id.Email)
}

func TestGitHubFallsBackToAnyVerified(t *testing.T) {
	srv := newGitHubServer(t, map[string]any{"id": 7}, []map[string]any{
		{"email": "primary@example.com", "primary": true, "verified": false},
		{"email": "other@example.com", "primary": false, "verified": true},
	})

	id, err := newTestGitHub(srv).Identify(context.Background(), "code", "")
	require.NoError(t, err)
	assert.Equal(t, "other@example.com", id.Email)
}

func TestGitHubNoVerifiedEmail(t *testing.T) {
	srv := newGitHubServer(t, map[string]any{"id": 7}, []map[string]any{
		{"email": "primary@example.com", "primary": true, "verified": false},
	})

	_, err := newTestGitHub(srv).Identify(context.Background(), "code", "")
	assert.ErrorIs(t, err, ErrNoVerifiedEmail)
}

func TestGitHubAuthCodeURL(t *testing.T) {
	p := NewGitHubProvider(ProviderConfig{ClientID: "gh-client", ClientSecret: "s", RedirectURL: "http://cb"}, "")
	u := p.AuthCodeURL("st", "")
	assert.Contains(t, u, "https://github.com/login/oauth/authorize?")
	assert.Contains(t, u, "state=st")
	assert.Contains(t, u, "scope=read%3Auser+user%3Aemail")
	assert.False(t, p.UsesNonce())
}
