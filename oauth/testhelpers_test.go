package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sportsai/authcore/internal/clock"
)

type fakeAccounts struct {
	mu       sync.Mutex
	byID     map[string]*Account
	links    map[string]string // provider:subject -> id
	linkErr  error
	creates  int
	linkHits int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: map[string]*Account{}, links: map[string]string{}}
}

func (f *fakeAccounts) add(email string) *Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &Account{ID: uuid.NewString(), Email: email}
	f.byID[a.ID] = a
	return a
}

func (f *fakeAccounts) FindByProvider(_ context.Context, provider, subject string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.links[provider+":"+subject]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := *f.byID[id]
	return &a, nil
}

func (f *fakeAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (f *fakeAccounts) Link(_ context.Context, accountID string, id Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links[id.Provider+":"+id.Subject] = accountID
	if a := f.byID[accountID]; a.ProfilePictureURL == "" {
		a.ProfilePictureURL = id.Picture
	}
	f.linkHits++
	return nil
}

func (f *fakeAccounts) Create(_ context.Context, id Identity) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &Account{ID: uuid.NewString(), Email: id.Email, ProfilePictureURL: id.Picture}
	f.byID[a.ID] = a
	f.links[id.Provider+":"+id.Subject] = a.ID
	f.creates++
	c := *a
	return &c, nil
}

const (
	testClientID = "client-123"
	testCallback = "http://localhost:4000/v1/auth/google/callback"
)

// googleServer is a token endpoint that answers with an ID token built by
// claims at request time.
type googleServer struct {
	*httptest.Server
	mu     sync.Mutex
	claims func() jwt.MapClaims
	status int
	omitID bool
}

func newGoogleServer(t *testing.T) *googleServer {
	t.Helper()
	gs := &googleServer{status: http.StatusOK}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gs.mu.Lock()
		defer gs.mu.Unlock()
		if err := r.ParseForm(); err != nil || r.Form.Get("code") == "" {
			http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
			return
		}
		if gs.status != http.StatusOK {
			w.WriteHeader(gs.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{"access_token": "ya29.token", "token_type": "Bearer", "expires_in": 3599}
		if !gs.omitID {
			raw, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, gs.claims()).SignedString([]byte("unused"))
			body["id_token"] = raw
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *googleServer) setClaims(fn func() jwt.MapClaims) {
	gs.mu.Lock()
	gs.claims = fn
	gs.mu.Unlock()
}

func newTestGoogle(gs *googleServer, clk *clock.FakeClock) *GoogleProvider {
	return NewGoogleProvider(ProviderConfig{
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  testCallback,
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.google.com/o/oauth2/v2/auth", TokenURL: gs.URL + "/token"},
		HTTPTimeout:  2 * time.Second,
	}, clk)
}

func validClaims(clk *clock.FakeClock, nonce string) jwt.MapClaims {
	now := clk.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"azp":            testClientID,
		"sub":            "google-sub-1",
		"email":          "fan@example.com",
		"email_verified": true,
		"nonce":          nonce,
		"picture":        "https://lh3.example.com/p.png",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}
