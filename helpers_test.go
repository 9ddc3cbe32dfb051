package authcore_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/oauth"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/store/memory"
	"github.com/sportsai/authcore/twofactor"
)

const (
	testUA       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	testPassword = "Odds#2026pick"
)

type fakeProvider struct {
	name string
	mu   sync.Mutex
	ids  map[string]oauth.Identity // code -> identity
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, ids: map[string]oauth.Identity{}}
}

func (p *fakeProvider) grant(code string, id oauth.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id.Provider = p.name
	p.ids[code] = id
}

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Configured() bool { return true }
func (p *fakeProvider) RedirectURL() string {
	return "http://localhost:8080/v1/auth/" + p.name + "/callback"
}
func (p *fakeProvider) UsesNonce() bool { return false }
func (p *fakeProvider) AuthCodeURL(state, _ string) string {
	return "https://idp.test/" + p.name + "/authorize?state=" + state
}

func (p *fakeProvider) Identify(_ context.Context, code, _ string) (*oauth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.ids[code]
	if !ok {
		return nil, oauth.ErrExchange
	}
	return &id, nil
}

type harness struct {
	engine *authcore.Engine
	store  *memory.Store
	clock  *clock.FakeClock
	google *fakeProvider
	events *authcore.ChannelAuditSink
}

type option func(*authcore.Config)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.Password.Argon2 = password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Locale.Disabled = true
	cfg.Rotation.FallbackSecret = "test-fallback-secret"
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		store:  memory.New(),
		clock:  clock.Fake(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
		google: newFakeProvider("google"),
		events: authcore.NewChannelAuditSink(256),
	}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(h.store).
		WithClock(h.clock).
		WithOAuthProviders(h.google, newFakeProvider("github")).
		WithAuditSink(h.events).
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.Initialize(context.Background()))
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// device returns a request context carrying a browser user agent.
func device(ip string) context.Context {
	ctx := authcore.WithUserAgent(context.Background(), testUA)
	return authcore.WithClientIP(ctx, ip)
}

func (h *harness) signup(t *testing.T, email string) *authcore.Tokens {
	t.Helper()
	tokens, err := h.engine.Signup(device("203.0.113.10"), email, testPassword)
	require.NoError(t, err)
	return tokens
}

// totpCode returns the current code for secret.
func (h *harness) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := twofactor.DefaultTOTPConfig().GenerateCode(secret, h.clock.Now())
	require.NoError(t, err)
	return code
}

// wrongCode returns a six digit code that matches no window around now.
func (h *harness) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	cfg := twofactor.DefaultTOTPConfig()
	taken := map[string]bool{}
	step := time.Duration(cfg.Period) * time.Second
	for _, d := range []time.Duration{-step, 0, step} {
		c, err := cfg.GenerateCode(secret, h.clock.Now().Add(d))
		require.NoError(t, err)
		taken[c] = true
	}
	for i := 0; ; i++ {
		c := strings.Repeat(string(rune('0'+i%10)), 6)
		if !taken[c] {
			return c
		}
	}
}

func (h *harness) auditTypes() []string {
	h.engine.Close()
	var out []string
	for {
		select {
		case ev := <-h.events.Events():
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}
