package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/oauth"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/store/memory"
)

func TestSignupLoginAndProfile(t *testing.T) {
	h := newHarness(t)
	ctx := device("203.0.113.10")

	tokens := h.signup(t, "  Punter@Example.com ")
	assert.Equal(t, "punter@example.com", tokens.User.Email)
	assert.Equal(t, "free", tokens.User.SubscriptionTier)
	assert.NotEmpty(t, tokens.SessionID)
	assert.Equal(t, 900, tokens.ExpiresIn)

	_, err := h.engine.Signup(ctx, "punter@example.com", testPassword)
	assert.Equal(t, authcore.KindConflict, authcore.KindOf(err))

	_, err = h.engine.Signup(ctx, "new@example.com", "weakpass")
	require.Error(t, err)
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))

	res, err := h.engine.Login(ctx, "PUNTER@example.com", testPassword)
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.False(t, res.RequiresTwoFactor)

	claims, err := h.engine.VerifyAccessToken(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	profile, err := h.engine.Profile(ctx, claims.UserID())
	require.NoError(t, err)
	assert.Equal(t, "punter@example.com", profile.Email)

	_, err = h.engine.VerifyAccessToken(ctx, res.Tokens.RefreshToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "refresh token must not pass as access token")
}

func TestLoginUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "a@example.com")

	_, errUnknown := h.engine.Login(context.Background(), "nobody@example.com", testPassword)
	_, errWrong := h.engine.Login(context.Background(), "a@example.com", "Wrong#2026pick")

	var e1, e2 *authcore.Error
	require.True(t, errors.As(errUnknown, &e1))
	require.True(t, errors.As(errWrong, &e2))
	assert.Equal(t, e1.Message, e2.Message)
	assert.Equal(t, authcore.KindUnauthorized, e1.Kind)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "lock@example.com")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.engine.Login(ctx, "lock@example.com", "Wrong#2026pick")
		require.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "attempt %d", i+1)
	}
	_, err := h.engine.Login(ctx, "lock@example.com", "Wrong#2026pick")
	require.Equal(t, authcore.KindTooManyRequests, authcore.KindOf(err), "fifth failure locks")

	// The right password does not help while locked.
	_, err = h.engine.Login(ctx, "lock@example.com", testPassword)
	require.Equal(t, authcore.KindTooManyRequests, authcore.KindOf(err))
	assert.Greater(t, authcore.RetryAfterOf(err), 0)

	h.clock.Advance(16 * time.Minute)
	res, err := h.engine.Login(ctx, "lock@example.com", testPassword)
	require.NoError(t, err)
	assert.NotNil(t, res.Tokens)

	snap := h.engine.MetricsSnapshot()
	assert.Equal(t, uint64(5), snap.Counters[authcore.MetricLoginFailure])
	assert.Equal(t, uint64(2), snap.Counters[authcore.MetricLoginLockedOut])
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "clear@example.com")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = h.engine.Login(ctx, "clear@example.com", "Wrong#2026pick")
	}
	_, err := h.engine.Login(ctx, "clear@example.com", testPassword)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := h.engine.Login(ctx, "clear@example.com", "Wrong#2026pick")
		require.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
	}
}

func TestTwoFactorGate(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "tf@example.com")
	userID := tokens.User.ID
	ctx := device("203.0.113.11")

	setup, err := h.engine.SetupTwoFactor(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://totp/")
	assert.Contains(t, setup.QRCode, "data:image/png;base64,")

	_, err = h.engine.EnableTwoFactor(ctx, userID, h.wrongCode(t, setup.Secret))
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	backup, err := h.engine.EnableTwoFactor(ctx, userID, h.totpCode(t, setup.Secret))
	require.NoError(t, err)
	require.Len(t, backup, 10)

	res, err := h.engine.Login(ctx, "tf@example.com", testPassword)
	require.NoError(t, err)
	assert.True(t, res.RequiresTwoFactor)
	assert.Nil(t, res.Tokens, "no tokens before the second factor")
	assert.Equal(t, userID, res.UserID)

	h.clock.Advance(30 * time.Second)
	done, err := h.engine.CompleteTwoFactorLogin(ctx, userID, h.totpCode(t, setup.Secret))
	require.NoError(t, err)
	assert.True(t, done.User.TwoFactorEnabled)

	// A backup code works once.
	_, err = h.engine.CompleteTwoFactorLogin(ctx, userID, backup[0])
	require.NoError(t, err)
	_, err = h.engine.CompleteTwoFactorLogin(ctx, userID, backup[0])
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	st, err := h.engine.TwoFactorStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 9, st.BackupCodesRemaining)

	snap := h.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricBackupCodeUsed])
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricBackupCodeFailure])
}

func TestTwoFactorCodesAreThrottled(t *testing.T) {
	h := newHarness(t)
	userID := h.signup(t, "guess@example.com").User.ID
	ctx := context.Background()

	setup, err := h.engine.SetupTwoFactor(ctx, userID)
	require.NoError(t, err)
	_, err = h.engine.EnableTwoFactor(ctx, userID, h.totpCode(t, setup.Secret))
	require.NoError(t, err)

	wrong := h.wrongCode(t, setup.Secret)
	for i := 0; i < 4; i++ {
		_, err := h.engine.CompleteTwoFactorLogin(ctx, userID, wrong)
		require.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
	}
	_, err = h.engine.CompleteTwoFactorLogin(ctx, userID, wrong)
	require.Equal(t, authcore.KindTooManyRequests, authcore.KindOf(err))

	_, err = h.engine.CompleteTwoFactorLogin(ctx, userID, h.totpCode(t, setup.Secret))
	assert.Equal(t, authcore.KindTooManyRequests, authcore.KindOf(err), "valid code refused while locked")
}

func TestDisableTwoFactor(t *testing.T) {
	h := newHarness(t)
	userID := h.signup(t, "off@example.com").User.ID
	ctx := context.Background()

	err := h.engine.DisableTwoFactor(ctx, userID, "123456")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))

	setup, err := h.engine.SetupTwoFactor(ctx, userID)
	require.NoError(t, err)
	_, err = h.engine.EnableTwoFactor(ctx, userID, h.totpCode(t, setup.Secret))
	require.NoError(t, err)

	codes, err := h.engine.RegenerateBackupCodes(ctx, userID, h.totpCode(t, setup.Secret))
	require.NoError(t, err)
	assert.Len(t, codes, 10)

	require.NoError(t, h.engine.DisableTwoFactor(ctx, userID, h.totpCode(t, setup.Secret)))
	res, err := h.engine.Login(ctx, "off@example.com", testPassword)
	require.NoError(t, err)
	assert.False(t, res.RequiresTwoFactor)
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "rot@example.com")
	ctx := device("203.0.113.12")

	h.clock.Advance(time.Minute)
	next, err := h.engine.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	_, err = h.engine.Refresh(ctx, tokens.RefreshToken)
	require.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "replayed refresh token")

	_, err = h.engine.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)

	list, err := h.engine.ListSessions(ctx, tokens.User.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total, "rotation keeps one live session per device")
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "race@example.com")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Refresh(device(""), tokens.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRefreshRejectsAccessTokenAndGarbage(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "type@example.com")

	_, err := h.engine.Refresh(context.Background(), tokens.AccessToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
	_, err = h.engine.Refresh(context.Background(), "not-a-jwt")
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.engine.Refresh(context.Background(), tokens.RefreshToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "expired refresh token")
}

func TestRefreshOfUntrackedTokenStartsTracking(t *testing.T) {
	h := newHarness(t)
	// No user agent: no session row.
	tokens, err := h.engine.Signup(context.Background(), "legacy@example.com", testPassword)
	require.NoError(t, err)
	require.Empty(t, tokens.SessionID)

	next, err := h.engine.Refresh(device("203.0.113.13"), tokens.RefreshToken)
	require.NoError(t, err)

	list, err := h.engine.ListSessions(context.Background(), tokens.User.ID, next.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.True(t, list.Sessions[0].IsCurrent)
}

func TestLogoutAndRevocation(t *testing.T) {
	h := newHarness(t)
	first := h.signup(t, "multi@example.com")
	userID := first.User.ID

	second, err := h.engine.Login(device("198.51.100.2"), "multi@example.com", testPassword)
	require.NoError(t, err)
	third, err := h.engine.Login(device("198.51.100.3"), "multi@example.com", testPassword)
	require.NoError(t, err)

	list, err := h.engine.ListSessions(context.Background(), userID, second.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 3, list.Total)

	ok, err := h.engine.RevokeSession(context.Background(), "someone-else", second.Tokens.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.engine.RevokeSession(context.Background(), userID, second.Tokens.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = h.engine.Refresh(context.Background(), second.Tokens.RefreshToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	n, err := h.engine.RevokeOtherSessions(context.Background(), userID, third.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.engine.Refresh(context.Background(), third.Tokens.RefreshToken)
	require.NoError(t, err, "the caller's own session survives")

	h.engine.Logout(context.Background(), first.RefreshToken)
	_, err = h.engine.Refresh(context.Background(), first.RefreshToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
}

func TestRevokeAllSessions(t *testing.T) {
	h := newHarness(t)
	a := h.signup(t, "all@example.com")
	b, err := h.engine.Login(device("198.51.100.4"), "all@example.com", testPassword)
	require.NoError(t, err)

	n, err := h.engine.RevokeAllSessions(context.Background(), a.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{a.RefreshToken, b.Tokens.RefreshToken} {
		_, err := h.engine.Refresh(context.Background(), tok)
		assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
	}

	_, err = h.engine.RevokeOtherSessions(context.Background(), a.User.ID, "")
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
}

func TestSecretRotationKeepsOldTokensValid(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "keys@example.com")
	ctx := context.Background()

	rot, err := h.engine.RotateSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, rot.OldVersion+1, rot.NewVersion)

	_, err = h.engine.VerifyAccessToken(ctx, tokens.AccessToken)
	require.NoError(t, err, "token signed before rotation verifies during transition")
	_, err = h.engine.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)

	snap := h.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricSecretRotated])
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricVerifyPreviousSecret])

	st, err := h.engine.RotationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, rot.NewVersion, st.CurrentVersion)
}

func TestUnconfiguredFallbackRejectsWellKnownSecret(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.Rotation.FallbackSecret = "" })
	user := h.signup(t, "forged@example.com").User
	now := h.clock.Now()

	forged, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"type":  "access",
		"iat":   now.Unix(),
		"exp":   now.Add(10 * time.Minute).Unix(),
	}).SignedString([]byte("sportsai-secret-key-change-in-production"))
	require.NoError(t, err)

	_, err = h.engine.VerifyAccessToken(context.Background(), forged)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))
}

func TestOAuthLoginCreatesLinksAndRejectsReplay(t *testing.T) {
	h := newHarness(t)
	ctx := device("203.0.113.20")
	assert.True(t, h.engine.OAuthConfigured("google"))
	assert.False(t, h.engine.OAuthConfigured("facebook"))

	auth, err := h.engine.OAuthAuthorize(ctx, "google")
	require.NoError(t, err)
	assert.Contains(t, auth.URL, auth.State)

	h.google.grant("code-1", oauth.Identity{Subject: "g-1", Email: "fan@example.com", Picture: "https://img.test/fan.png"})
	res, err := h.engine.OAuthCallback(ctx, "google", "code-1", auth.State)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "fan@example.com", res.User.Email)

	_, err = h.engine.OAuthCallback(ctx, "google", "code-1", auth.State)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "state is single use")

	_, err = h.engine.OAuthCallback(ctx, "google", "", auth.State)
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))

	// A second login by the same subject finds the account.
	auth2, err := h.engine.OAuthAuthorize(ctx, "google")
	require.NoError(t, err)
	res2, err := h.engine.OAuthCallback(ctx, "google", "code-1", auth2.State)
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.Equal(t, res.User.ID, res2.User.ID)

	// Generated accounts have no usable password.
	_, err = h.engine.Login(ctx, "fan@example.com", testPassword)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	snap := h.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricOAuthStateRejected])
	assert.Equal(t, uint64(1), snap.Counters[authcore.MetricOAuthAccountCreated])
}

func TestOAuthLinksExistingEmail(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "both@example.com")
	ctx := context.Background()

	auth, err := h.engine.OAuthAuthorize(ctx, "google")
	require.NoError(t, err)
	h.google.grant("code-2", oauth.Identity{Subject: "g-2", Email: "both@example.com", Picture: "https://img.test/p.png"})

	res, err := h.engine.OAuthCallback(ctx, "google", "code-2", auth.State)
	require.NoError(t, err)
	assert.True(t, res.Linked)
	assert.Equal(t, tokens.User.ID, res.User.ID)

	u, err := h.store.FindUserByProvider(ctx, "google", "g-2")
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/p.png", u.ProfilePictureURL)
}

func TestOAuthStateBoundToProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	auth, err := h.engine.OAuthAuthorize(ctx, "google")
	require.NoError(t, err)
	_, err = h.engine.OAuthCallback(ctx, "github", "code", auth.State)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err))

	auth, err = h.engine.OAuthAuthorize(ctx, "google")
	require.NoError(t, err)
	h.clock.Advance(11 * time.Minute)
	_, err = h.engine.OAuthCallback(ctx, "google", "code", auth.State)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "expired state")
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "reset@example.com")
	ctx := context.Background()

	unknown, err := h.engine.RequestPasswordReset(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, unknown.Token)

	first, err := h.engine.RequestPasswordReset(ctx, "reset@example.com")
	require.NoError(t, err)
	assert.Equal(t, unknown.Message, first.Message, "response never reveals whether the account exists")
	require.NotEmpty(t, first.Token)

	second, err := h.engine.RequestPasswordReset(ctx, "reset@example.com")
	require.NoError(t, err)

	v, err := h.engine.ValidateResetToken(ctx, first.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid, "a new request invalidates older tokens")

	v, err = h.engine.ValidateResetToken(ctx, second.Token)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "reset@example.com", v.Email)

	err = h.engine.ResetPassword(ctx, second.Token, "short")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))

	require.NoError(t, h.engine.ResetPassword(ctx, second.Token, "Fresh#2026line"))
	err = h.engine.ResetPassword(ctx, second.Token, "Other#2026line")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err), "token is single use")

	_, err = h.engine.Refresh(ctx, tokens.RefreshToken)
	assert.Equal(t, authcore.KindUnauthorized, authcore.KindOf(err), "reset revokes sessions")

	_, err = h.engine.Login(ctx, "reset@example.com", "Fresh#2026line")
	require.NoError(t, err)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	h := newHarness(t)
	h.signup(t, "late@example.com")
	ctx := context.Background()

	req, err := h.engine.RequestPasswordReset(ctx, "late@example.com")
	require.NoError(t, err)
	h.clock.Advance(61 * time.Minute)

	v, err := h.engine.ValidateResetToken(ctx, req.Token)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	err = h.engine.ResetPassword(ctx, req.Token, "Fresh#2026line")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	userID := h.signup(t, "change@example.com").User.ID
	ctx := context.Background()

	err := h.engine.ChangePassword(ctx, userID, "Wrong#2026pick", "Next#2026pick")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))
	err = h.engine.ChangePassword(ctx, userID, testPassword, testPassword)
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))
	err = h.engine.ChangePassword(ctx, userID, testPassword, "nocaps#2026")
	assert.Equal(t, authcore.KindBadRequest, authcore.KindOf(err))

	require.NoError(t, h.engine.ChangePassword(ctx, userID, testPassword, "Next#2026pick"))
	_, err = h.engine.Login(ctx, "change@example.com", "Next#2026pick")
	require.NoError(t, err)
}

type failingHasher struct{ password.Hasher }

func (failingHasher) Verify(string, string) (bool, error) {
	return false, errors.New("hasher unavailable")
}

func TestChangePasswordSurfacesHasherFailure(t *testing.T) {
	cfg := authcore.DefaultConfig()
	cfg.Password.Argon2 = password.Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Locale.Disabled = true
	cfg.Rotation.FallbackSecret = "test-fallback-secret"
	store := memory.New()
	ctx := context.Background()

	argon, err := password.NewArgon2(cfg.Password.Argon2)
	require.NoError(t, err)
	hash, err := argon.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, authcore.User{ID: "u-hash", Email: "hash@example.com", PasswordHash: hash}))

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(store).
		WithPasswordHasher(failingHasher{}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	err = engine.ChangePassword(ctx, "u-hash", testPassword, "Next#2026pick")
	assert.Equal(t, authcore.KindUnavailable, authcore.KindOf(err))

	u, err := store.FindUserByID(ctx, "u-hash")
	require.NoError(t, err)
	assert.Equal(t, hash, u.PasswordHash)
}

func TestLegacyBcryptHashUpgradedOnLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	legacy, err := password.NewBcrypt(4).Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateUser(ctx, authcore.User{
		ID:           "legacy-1",
		Email:        "old@example.com",
		PasswordHash: legacy,
		CreatedAt:    h.clock.Now(),
	}))

	_, err = h.engine.Login(ctx, "old@example.com", testPassword)
	require.NoError(t, err)

	u, err := h.store.FindUserByID(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Contains(t, u.PasswordHash, "$argon2id$")
	assert.Equal(t, uint64(1), h.engine.MetricsSnapshot().Counters[authcore.MetricPasswordUpgraded])

	_, err = h.engine.Login(ctx, "old@example.com", testPassword)
	require.NoError(t, err)
}

func TestLanguageDetectedOnFirstLogin(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) {
		c.Locale.Disabled = false
		c.Locale.DevCountryCode = "ES"
	})
	tokens, err := h.engine.Signup(device("192.168.1.20"), "hola@example.com", testPassword)
	require.NoError(t, err)

	prefs, err := h.store.GetPreferences(context.Background(), tokens.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "es", prefs.Display.Language)
	assert.Empty(t, prefs.Display.Theme, "only the language is persisted")

	merged, err := h.engine.Preferences(context.Background(), tokens.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "es", merged.Display.Language)
	assert.Equal(t, "dark", merged.Display.Theme)
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t)
	tokens := h.signup(t, "trail@example.com")
	_, _ = h.engine.Login(context.Background(), "trail@example.com", "Wrong#2026pick")
	h.engine.Logout(context.Background(), tokens.RefreshToken)

	types := h.auditTypes()
	assert.Equal(t, []string{authcore.AuditSignup, authcore.AuditLogin, authcore.AuditLogout}, types)
}

func TestBuilderRejectsSessionsShorterThanRefreshTokens(t *testing.T) {
	cfg := authcore.DefaultConfig()
	cfg.Session.TTL = time.Hour

	_, err := authcore.New().WithConfig(cfg).WithStore(memory.New()).Build()
	assert.Error(t, err)
}

func TestBuilderRejectsMissingStores(t *testing.T) {
	_, err := authcore.New().Build()
	assert.Error(t, err)

	b := authcore.New().WithStore(nil)
	_, err = b.Build()
	assert.Error(t, err)
}
