package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/randutil"
	"github.com/sportsai/authcore/password"
)

// PasswordResetRequest is the outcome of RequestPasswordReset. Token is
// the plaintext reset token for delivery by email. It is empty when no
// account matched; callers must show only Message.
type PasswordResetRequest struct {
	Message string `json:"message"`
	Token   string `json:"-"`
}

// RequestPasswordReset invalidates the user's open reset tokens and
// issues a new one. The message is the same whether or not the email
// belongs to an account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*PasswordResetRequest, error) {
	out := &PasswordResetRequest{Message: msgResetGeneric}
	e.metrics.Inc(MetricPasswordResetRequest)

	user, err := e.users.FindUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return out, nil
		}
		return nil, unavailable("find user", err)
	}

	token, err := randutil.Hex(32)
	if err != nil {
		return nil, unavailable("generate reset token", err)
	}
	now := e.clock.Now()
	if _, err := e.resets.InvalidateOpenResetTokens(ctx, user.ID, now); err != nil {
		return nil, unavailable("invalidate reset tokens", err)
	}
	err = e.resets.CreatePasswordResetToken(ctx, ResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: randutil.SHA256Hex(token),
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Password.ResetTTL),
	})
	if err != nil {
		return nil, unavailable("create reset token", err)
	}

	e.emitAudit(ctx, AuditPasswordResetRequest, true, user.ID, "", nil, nil)
	out.Token = token
	return out, nil
}

// ValidateResetToken reports whether token is unused and unexpired.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) (*ResetValidation, error) {
	rt, err := e.resets.FindResetToken(ctx, randutil.SHA256Hex(token))
	if err != nil {
		if errors.Is(err, ErrResetTokenNotFound) {
			return &ResetValidation{}, nil
		}
		return nil, unavailable("find reset token", err)
	}
	if !rt.UsedAt.IsZero() || !rt.ExpiresAt.After(e.clock.Now()) {
		return &ResetValidation{}, nil
	}
	user, err := e.users.FindUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return &ResetValidation{}, nil
		}
		return nil, unavailable("find user", err)
	}
	return &ResetValidation{Valid: true, Email: user.Email}, nil
}

// ResetPassword sets a new password with a reset token and revokes every
// device session of the account.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := e.config.Password.Policy.Check(newPassword); err != nil {
		e.metrics.Inc(MetricPasswordResetFailure)
		return badRequest(policyMessage(err), err)
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return badRequest(policyMessage(err), err)
	}

	userID, err := e.resets.ConsumeResetToken(ctx, randutil.SHA256Hex(token), hash, e.clock.Now())
	if err != nil {
		e.metrics.Inc(MetricPasswordResetFailure)
		if errors.Is(err, ErrResetTokenNotFound) {
			e.emitAudit(ctx, AuditPasswordReset, false, "", "", err, nil)
			return badRequest(msgResetInvalid, nil)
		}
		return unavailable("consume reset token", err)
	}

	if _, err := e.sessions.RevokeAll(ctx, userID); err != nil {
		e.logger.Warn("revoke sessions after reset failed", zap.String("user_id", userID), zap.Error(err))
	}
	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditPasswordReset, true, userID, "", nil, nil)
	return nil
}

// ChangePassword replaces the password of a signed-in user.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return unauthorized(msgUserNotFound, nil)
		}
		return unavailable("find user", err)
	}

	ok, err := e.hasher.Verify(current, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrMalformedHash) {
		return unavailable("verify password", err)
	}
	if !ok {
		e.metrics.Inc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, AuditPasswordChange, false, userID, "", errors.New("current password mismatch"), nil)
		return badRequest(msgPasswordIncorrect, nil)
	}
	if current == next {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return badRequest(msgPasswordSame, nil)
	}
	if err := e.config.Password.Policy.Check(next); err != nil {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return badRequest(policyMessage(err), err)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return badRequest(policyMessage(err), err)
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return unavailable("update password", err)
	}
	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditPasswordChange, true, userID, "", nil, nil)
	return nil
}
