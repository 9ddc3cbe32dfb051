package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sportsai/authcore/twofactor"
)

// twoFactorError maps an authenticator error onto the engine taxonomy.
// Wrong codes are Unauthorized; a missing setup step is BadRequest.
func (e *Engine) twoFactorError(op string, err error) error {
	switch {
	case errors.Is(err, twofactor.ErrInvalidCode):
		return unauthorized(msgInvalidCode, nil)
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		return badRequest(msgTwoFactorEnabled, nil)
	case errors.Is(err, twofactor.ErrNoPendingSecret):
		return badRequest(msgNoPendingSecret, nil)
	case errors.Is(err, twofactor.ErrNotEnabled):
		return badRequest(msgTwoFactorDisabled, nil)
	case errors.Is(err, twofactor.ErrUserNotFound):
		return unauthorized(msgUserNotFound, nil)
	case errors.Is(err, twofactor.ErrStateChanged):
		return &Error{Kind: KindConflict, Message: msgTwoFactorChanged}
	default:
		return unavailable(op, err)
	}
}

// verifySecondFactor checks code and counts the outcome by method.
func (e *Engine) verifySecondFactor(ctx context.Context, userID, code string) error {
	method, err := e.twoFactor.VerifyToken(ctx, userID, code)
	if err != nil {
		if errors.Is(err, twofactor.ErrInvalidCode) {
			if method == twofactor.MethodBackupCode {
				e.metrics.Inc(MetricBackupCodeFailure)
			} else {
				e.metrics.Inc(MetricTOTPFailure)
			}
		}
		return e.twoFactorError("verify two-factor code", err)
	}
	if method == twofactor.MethodBackupCode {
		e.metrics.Inc(MetricBackupCodeUsed)
	}
	return nil
}

// guardedSecondFactor is verifySecondFactor behind a per-user lockout.
// Wrong codes count toward it; a correct code clears it.
func (e *Engine) guardedSecondFactor(ctx context.Context, userID, code string) error {
	key := "2fa:" + userID
	lock, err := e.twoFactorGuard.Check(ctx, key)
	if err != nil {
		return unavailable("check two-factor throttle", err)
	}
	if lock.Locked {
		e.metrics.Inc(MetricLoginLockedOut)
		return tooManyRequests(msgTooManyAttempts(lock.RetryAfter), lock.RetryAfter)
	}

	if err := e.verifySecondFactor(ctx, userID, code); err != nil {
		if KindOf(err) == KindUnauthorized {
			if lock, rerr := e.twoFactorGuard.RecordFailure(ctx, key); rerr == nil && lock.Locked {
				return tooManyRequests(msgTooManyAttempts(lock.RetryAfter), lock.RetryAfter)
			}
		}
		return err
	}
	if err := e.twoFactorGuard.Clear(ctx, key); err != nil {
		e.logger.Warn("clear two-factor throttle failed", zap.Error(err))
	}
	return nil
}

func (e *Engine) TwoFactorStatus(ctx context.Context, userID string) (twofactor.Status, error) {
	st, err := e.twoFactor.Status(ctx, userID)
	if err != nil {
		return twofactor.Status{}, e.twoFactorError("two-factor status", err)
	}
	return st, nil
}

// SetupTwoFactor starts enrollment. Two-factor stays off until
// EnableTwoFactor confirms a code.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetupResult, error) {
	setup, err := e.twoFactor.GenerateSecret(ctx, userID)
	if err != nil {
		return nil, e.twoFactorError("generate two-factor secret", err)
	}
	return &TwoFactorSetupResult{
		Secret:      setup.Secret,
		OTPAuthURL:  setup.OTPAuthURL,
		QRCode:      setup.QRCode,
		BackupCodes: setup.BackupCodes,
	}, nil
}

// EnableTwoFactor confirms the pending secret and returns fresh backup
// codes.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	codes, err := e.twoFactor.VerifyAndEnable(ctx, userID, code)
	if err != nil {
		if errors.Is(err, twofactor.ErrInvalidCode) {
			e.metrics.Inc(MetricTOTPFailure)
		}
		e.emitAudit(ctx, AuditTwoFactorEnabled, false, userID, "", err, nil)
		return nil, e.twoFactorError("enable two-factor", err)
	}
	e.metrics.Inc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, AuditTwoFactorEnabled, true, userID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor turns two-factor off once code verifies.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	if err := e.twoFactor.Disable(ctx, userID, code); err != nil {
		e.emitAudit(ctx, AuditTwoFactorDisabled, false, userID, "", err, nil)
		return e.twoFactorError("disable two-factor", err)
	}
	e.metrics.Inc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, AuditTwoFactorDisabled, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	codes, err := e.twoFactor.RegenerateBackupCodes(ctx, userID, code)
	if err != nil {
		e.emitAudit(ctx, AuditBackupCodesRegenerate, false, userID, "", err, nil)
		return nil, e.twoFactorError("regenerate backup codes", err)
	}
	e.metrics.Inc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, AuditBackupCodesRegenerate, true, userID, "", nil, nil)
	return codes, nil
}

// ValidateTwoFactor reports whether code is currently valid for userID.
// A backup code is consumed by a successful check.
func (e *Engine) ValidateTwoFactor(ctx context.Context, userID, code string) (bool, error) {
	err := e.guardedSecondFactor(ctx, userID, code)
	if err == nil {
		return true, nil
	}
	if KindOf(err) == KindUnauthorized {
		return false, nil
	}
	return false, err
}
