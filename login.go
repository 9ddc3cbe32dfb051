package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/jwt"
	"github.com/sportsai/authcore/password"
	"github.com/sportsai/authcore/ratelimit"
	"github.com/sportsai/authcore/session"
)

const (
	defaultTier = string(ratelimit.TierFree)
	defaultRole = "user"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// policyMessage turns a password policy violation into a sentence.
func policyMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// Signup creates a password account and logs it in.
func (e *Engine) Signup(ctx context.Context, email, pw string) (*Tokens, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, badRequest("Invalid email address", nil)
	}
	if err := e.config.Password.Policy.Check(pw); err != nil {
		return nil, badRequest(policyMessage(err), err)
	}

	_, err := e.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		e.metrics.Inc(MetricSignupDuplicate)
		return nil, &Error{Kind: KindConflict, Message: msgEmailTaken}
	case !errors.Is(err, ErrUserNotFound):
		return nil, unavailable("find user", err)
	}

	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return nil, badRequest(policyMessage(err), err)
	}
	u := User{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordHash:     hash,
		SubscriptionTier: defaultTier,
		Role:             defaultRole,
		CreatedAt:        e.clock.Now(),
	}
	if err := e.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.metrics.Inc(MetricSignupDuplicate)
			return nil, &Error{Kind: KindConflict, Message: msgEmailTaken}
		}
		return nil, unavailable("create user", err)
	}

	tokens, err := e.completeLogin(ctx, &u)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricSignupSuccess)
	e.emitAudit(ctx, AuditSignup, true, u.ID, tokens.SessionID, nil, nil)
	return tokens, nil
}

// Login checks the failed-attempt throttle, then the password. A user
// with two-factor enabled gets a challenge instead of tokens and must
// finish through CompleteTwoFactorLogin.
func (e *Engine) Login(ctx context.Context, email, pw string) (*LoginResult, error) {
	start := e.clock.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, e.clock.Now().Sub(start)) }()

	email = normalizeEmail(email)
	lock, err := e.loginThrottle.Check(ctx, email)
	if err != nil {
		return nil, unavailable("check login throttle", err)
	}
	if lock.Locked {
		e.metrics.Inc(MetricLoginLockedOut)
		e.emitAudit(ctx, AuditLoginLockedOut, false, "", "", ratelimit.ErrLockedOut, nil)
		return nil, tooManyRequests(msgTooManyAttempts(lock.RetryAfter), lock.RetryAfter)
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, unavailable("find user", err)
		}
		return nil, e.loginFailed(ctx, email, "")
	}

	ok, err := e.hasher.Verify(pw, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrMalformedHash) {
		return nil, unavailable("verify password", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, email, user.ID)
	}

	if err := e.loginThrottle.Clear(ctx, email); err != nil {
		e.logger.Warn("clear login throttle failed", zap.Error(err))
	}
	e.upgradePasswordHash(ctx, user, pw)

	if user.TwoFactorEnabled {
		e.metrics.Inc(MetricLoginTwoFactorRequired)
		e.emitAudit(ctx, AuditLogin, true, user.ID, "", nil, map[string]string{"stage": "two_factor_required"})
		return &LoginResult{RequiresTwoFactor: true, UserID: user.ID, Message: msgTwoFactorRequired}, nil
	}

	tokens, err := e.completeLogin(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLogin, true, user.ID, tokens.SessionID, nil, nil)
	return &LoginResult{Tokens: tokens}, nil
}

// loginFailed records one failed attempt and builds the response. The
// attempt that reaches the threshold is answered with the lockout.
func (e *Engine) loginFailed(ctx context.Context, email, userID string) error {
	e.metrics.Inc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLogin, false, userID, "", errors.New("invalid credentials"), nil)

	lock, err := e.loginThrottle.RecordFailure(ctx, email)
	if err != nil {
		e.logger.Warn("record login failure failed", zap.Error(err))
		return unauthorized(msgInvalidCredentials, nil)
	}
	if lock.Locked {
		e.metrics.Inc(MetricLoginLockedOut)
		return tooManyRequests(msgAccountLocked, lock.RetryAfter)
	}
	return unauthorized(msgInvalidCredentials, nil)
}

// upgradePasswordHash rehashes a legacy or weaker hash with the current
// parameters. Failures are logged and never fail the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user *User, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
	e.metrics.Inc(MetricPasswordUpgraded)
}

// CompleteTwoFactorLogin finishes a login that returned a two-factor
// challenge. Failed codes count toward a per-user lockout.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, userID, code string) (*Tokens, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, unauthorized(msgUserNotFound, nil)
		}
		return nil, unavailable("find user", err)
	}

	if err := e.guardedSecondFactor(ctx, userID, code); err != nil {
		e.emitAudit(ctx, AuditTwoFactorLogin, false, userID, "", err, nil)
		return nil, err
	}

	tokens, err := e.completeLogin(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricTwoFactorLoginSuccess)
	e.emitAudit(ctx, AuditTwoFactorLogin, true, user.ID, tokens.SessionID, nil, nil)
	return tokens, nil
}

// completeLogin issues a token pair, records the device session when the
// caller sent a user agent, and fills in the display language if unset.
func (e *Engine) completeLogin(ctx context.Context, user *User) (*Tokens, error) {
	pair, err := e.issuer.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, unavailable("issue tokens", err)
	}

	var sessionID string
	if ua := userAgentFromContext(ctx); ua != "" {
		s, err := e.sessions.Create(ctx, user.ID, pair.RefreshToken, ua, clientIPFromContext(ctx))
		if err != nil {
			return nil, unavailable("create device session", err)
		}
		sessionID = s.ID
		e.metrics.Inc(MetricSessionCreated)
	}

	e.ensureLanguage(ctx, user.ID)

	return &Tokens{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		User:         viewOf(user),
		SessionID:    sessionID,
	}, nil
}

// Refresh trades a refresh token for a new pair. The device session moves
// to the new refresh token, so the old one stops working.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	v, err := e.issuer.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		if errors.Is(err, jwt.ErrWrongTokenType) {
			return nil, unauthorized("Invalid refresh token", err)
		}
		return nil, unauthorized(msgRefreshInvalid, err)
	}
	userID := v.Claims.UserID()

	valid, err := e.sessions.IsValid(ctx, refreshToken)
	if err != nil {
		return nil, unavailable("check device session", err)
	}
	if !valid {
		e.metrics.Inc(MetricRefreshRevoked)
		e.emitAudit(ctx, AuditRefresh, false, userID, "", session.ErrRevoked, nil)
		return nil, unauthorized(msgSessionRevoked, nil)
	}

	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		if errors.Is(err, ErrUserNotFound) {
			return nil, unauthorized(msgUserNotFound, nil)
		}
		return nil, unavailable("find user", err)
	}

	pair, err := e.issuer.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, unavailable("issue tokens", err)
	}

	ip := clientIPFromContext(ctx)
	var sessionID string
	s, err := e.sessions.Rotate(ctx, refreshToken, pair.RefreshToken, ip)
	switch {
	case err == nil:
		sessionID = s.ID
	case errors.Is(err, session.ErrNotFound):
		// Untracked token: start tracking from the new one.
		if ua := userAgentFromContext(ctx); ua != "" {
			if s, err := e.sessions.Create(ctx, user.ID, pair.RefreshToken, ua, ip); err == nil {
				sessionID = s.ID
				e.metrics.Inc(MetricSessionCreated)
			} else {
				e.logger.Warn("device session create on refresh failed", zap.Error(err))
			}
		}
	case errors.Is(err, session.ErrRevoked):
		e.metrics.Inc(MetricRefreshRevoked)
		e.emitAudit(ctx, AuditRefresh, false, user.ID, "", err, nil)
		return nil, unauthorized(msgSessionRevoked, nil)
	default:
		return nil, unavailable("rotate device session", err)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditRefresh, true, user.ID, sessionID, nil, nil)
	return &RefreshResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Logout revokes the device session of refreshToken. It never fails the
// caller; store errors are logged.
func (e *Engine) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	var userID string
	if v, err := e.issuer.VerifyRefresh(ctx, refreshToken); err == nil {
		userID = v.Claims.UserID()
	}
	if err := e.sessions.RevokeByToken(ctx, refreshToken); err != nil {
		e.logger.Warn("logout revoke failed", zap.Error(err))
		return
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, true, userID, "", nil, nil)
}

// VerifyAccessToken checks an access token and returns its claims.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (*jwt.Claims, error) {
	v, err := e.issuer.VerifyAccess(ctx, token)
	if err != nil {
		return nil, unauthorized(msgInvalidToken, err)
	}
	if active := e.rotator.ActiveSecrets(ctx); len(active) > 0 && v.SecretVersion != active[0].Version {
		e.metrics.Inc(MetricVerifyPreviousSecret)
	}
	return v.Claims, nil
}

// SubscriptionTier returns the rate limit tier of userID.
func (e *Engine) SubscriptionTier(ctx context.Context, userID string) (ratelimit.Tier, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return ratelimit.TierNone, err
	}
	return ratelimit.ParseTier(user.SubscriptionTier), nil
}

// Profile returns the account summary of userID.
func (e *Engine) Profile(ctx context.Context, userID string) (*UserView, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, unauthorized(msgUserNotFound, nil)
		}
		return nil, unavailable("find user", err)
	}
	v := viewOf(user)
	return &v, nil
}
