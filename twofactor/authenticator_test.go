package twofactor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sportsai/authcore/internal/clock"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	// beforeSwap runs ahead of the next SwapTwoFactor, outside the lock.
	beforeSwap func()
}

func newFakeStore(users ...string) *fakeStore {
	f := &fakeStore{profiles: make(map[string]Profile)}
	for _, u := range users {
		f.profiles[u] = Profile{Email: u + "@example.com"}
	}
	return f
}

func (f *fakeStore) GetTwoFactor(_ context.Context, userID string) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	p.BackupCodes = append([]string(nil), p.BackupCodes...)
	return p, nil
}

func (f *fakeStore) SwapTwoFactor(_ context.Context, userID string, prev State, next Profile) (bool, error) {
	if hook := f.beforeSwap; hook != nil {
		f.beforeSwap = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.profiles[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if cur.State() != prev {
		return false, nil
	}
	next.Email = cur.Email
	f.profiles[userID] = next
	return true, nil
}

func (f *fakeStore) set(userID string, p Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Email = f.profiles[userID].Email
	f.profiles[userID] = p
}

func (f *fakeStore) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	for i, h := range p.BackupCodes {
		if h == hash {
			p.BackupCodes = append(p.BackupCodes[:i:i], p.BackupCodes[i+1:]...)
			f.profiles[userID] = p
			return true, nil
		}
	}
	return false, nil
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *fakeStore, *clock.FakeClock) {
	t.Helper()
	store := newFakeStore("u1")
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewAuthenticator(store, Config{Clock: clk}), store, clk
}

func enable(t *testing.T, a *Authenticator, clk *clock.FakeClock) (secret string, codes []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := a.GenerateSecret(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	code, _ := a.totp.GenerateCode(setup.Secret, clk.Now())
	codes, err = a.VerifyAndEnable(ctx, "u1", code)
	if err != nil {
		t.Fatalf("VerifyAndEnable failed: %v", err)
	}
	return setup.Secret, codes
}

func TestGenerateSecretStoresPendingSecret(t *testing.T) {
	a, store, _ := newTestAuthenticator(t)
	setup, err := a.GenerateSecret(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if !strings.HasPrefix(setup.QRCode, "data:image/png;base64,") {
		t.Fatalf("unexpected QR data url prefix: %.30s", setup.QRCode)
	}
	if len(setup.BackupCodes) != BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", BackupCodeCount, len(setup.BackupCodes))
	}

	p := store.profiles["u1"]
	if p.Enabled || p.Secret != setup.Secret {
		t.Fatalf("expected pending secret, got enabled=%v", p.Enabled)
	}
	for _, h := range p.BackupCodes {
		for _, c := range setup.BackupCodes {
			if h == c {
				t.Fatal("backup code stored in plaintext")
			}
		}
	}
}

func TestVerifyAndEnablePreconditions(t *testing.T) {
	a, _, clk := newTestAuthenticator(t)
	ctx := context.Background()

	if _, err := a.VerifyAndEnable(ctx, "u1", "123456"); !errors.Is(err, ErrNoPendingSecret) {
		t.Fatalf("expected ErrNoPendingSecret, got %v", err)
	}
	if _, err := a.GenerateSecret(ctx, "u1"); err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if _, err := a.VerifyAndEnable(ctx, "u1", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	enable(t, a, clk)
	if _, err := a.GenerateSecret(ctx, "u1"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
	if _, err := a.GenerateSecret(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestVerifyTokenTOTP(t *testing.T) {
	a, _, clk := newTestAuthenticator(t)
	secret, _ := enable(t, a, clk)

	clk.Advance(5 * time.Minute)
	code, _ := a.totp.GenerateCode(secret, clk.Now())
	m, err := a.VerifyToken(context.Background(), "u1", code)
	if err != nil || m != MethodTOTP {
		t.Fatalf("expected TOTP success, method=%s err=%v", m, err)
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	a, store, clk := newTestAuthenticator(t)
	_, codes := enable(t, a, clk)
	ctx := context.Background()

	for _, c := range codes {
		m, err := a.VerifyToken(ctx, "u1", strings.ToLower(c))
		if err != nil || m != MethodBackupCode {
			t.Fatalf("expected first use of %s to succeed, method=%s err=%v", c, m, err)
		}
		m, err = a.VerifyToken(ctx, "u1", c)
		if !errors.Is(err, ErrInvalidCode) || m != MethodBackupCode {
			t.Fatalf("expected reuse of %s to fail as backup code, method=%s err=%v", c, m, err)
		}
	}
	if n := len(store.profiles["u1"].BackupCodes); n != 0 {
		t.Fatalf("expected all codes consumed, %d left", n)
	}
}

func TestVerifyTokenDistinguishesNotEnabled(t *testing.T) {
	a, _, _ := newTestAuthenticator(t)
	if _, err := a.VerifyToken(context.Background(), "u1", "123456"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}

func TestWrongSixDigitCodeCountsAsTOTP(t *testing.T) {
	a, _, clk := newTestAuthenticator(t)
	secret, _ := enable(t, a, clk)
	good, _ := a.totp.GenerateCode(secret, clk.Now())
	bad := "000000"
	if good == bad {
		bad = "111111"
	}
	m, err := a.VerifyToken(context.Background(), "u1", bad)
	if !errors.Is(err, ErrInvalidCode) || m != MethodTOTP {
		t.Fatalf("expected TOTP failure, method=%s err=%v", m, err)
	}
}

func TestDisableRequiresValidCode(t *testing.T) {
	a, store, clk := newTestAuthenticator(t)
	_, codes := enable(t, a, clk)
	ctx := context.Background()

	if err := a.Disable(ctx, "u1", "ZZZZZZZZ"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if err := a.Disable(ctx, "u1", codes[0]); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	p := store.profiles["u1"]
	if p.Enabled || p.Secret != "" || p.BackupCodes != nil {
		t.Fatalf("expected cleared profile, got %+v", p)
	}
	if err := a.Disable(ctx, "u1", codes[1]); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	a, _, clk := newTestAuthenticator(t)
	secret, old := enable(t, a, clk)
	ctx := context.Background()

	code, _ := a.totp.GenerateCode(secret, clk.Now())
	fresh, err := a.RegenerateBackupCodes(ctx, "u1", code)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}

	if _, err := a.VerifyToken(ctx, "u1", old[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected old code rejected, got %v", err)
	}
	if _, err := a.VerifyToken(ctx, "u1", fresh[0]); err != nil {
		t.Fatalf("expected new code accepted, got %v", err)
	}

	st, err := a.Status(ctx, "u1")
	if err != nil || !st.Enabled || st.BackupCodesRemaining != BackupCodeCount-1 {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}
}

func TestRegenerateDoesNotResurrectDisabledProfile(t *testing.T) {
	a, store, clk := newTestAuthenticator(t)
	secret, _ := enable(t, a, clk)
	ctx := context.Background()

	store.beforeSwap = func() { store.set("u1", Profile{}) }
	code, _ := a.totp.GenerateCode(secret, clk.Now())
	if _, err := a.RegenerateBackupCodes(ctx, "u1", code); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged, got %v", err)
	}

	st, err := a.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Enabled || st.BackupCodesRemaining != 0 {
		t.Fatalf("concurrent disable was overwritten: %+v", st)
	}
}

func TestVerifyAndEnableRejectsReplacedSecret(t *testing.T) {
	a, store, clk := newTestAuthenticator(t)
	ctx := context.Background()

	setup, err := a.GenerateSecret(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	newer, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	store.beforeSwap = func() { store.set("u1", Profile{Secret: newer}) }

	code, _ := a.totp.GenerateCode(setup.Secret, clk.Now())
	if _, err := a.VerifyAndEnable(ctx, "u1", code); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged, got %v", err)
	}
	if p := store.profiles["u1"]; p.Enabled || p.Secret != newer {
		t.Fatalf("expected the newer pending secret to survive, got enabled=%v", p.Enabled)
	}
}
