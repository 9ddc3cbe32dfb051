package twofactor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/clock"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyEnabled   = errors.New("two-factor authentication is already enabled")
	ErrNotEnabled       = errors.New("two-factor authentication is not enabled")
	ErrNoPendingSecret  = errors.New("no pending two-factor secret")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrStoreUnavailable = errors.New("two-factor store unavailable")
	// ErrStateChanged means another request changed the profile between
	// the read and the write.
	ErrStateChanged = errors.New("two-factor state changed concurrently")
)

// Profile is the two-factor state kept on the user record.
type Profile struct {
	Email       string
	Secret      string
	Enabled     bool
	BackupCodes []string
}

// State is what a conditional write is checked against.
type State struct {
	Enabled bool
	Secret  string
}

// State returns the enabled flag and secret of p.
func (p Profile) State() State {
	return State{Enabled: p.Enabled, Secret: p.Secret}
}

// Store persists profiles. GetTwoFactor returns ErrUserNotFound for an
// unknown user.
type Store interface {
	GetTwoFactor(ctx context.Context, userID string) (Profile, error)
	// SwapTwoFactor writes next only while the stored state equals prev and
	// reports whether it did. Email in next is ignored.
	SwapTwoFactor(ctx context.Context, userID string, prev State, next Profile) (bool, error)
	// ConsumeBackupCode removes hash from the user's set and reports whether
	// it was present, in one atomic step.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
}

// Method names what satisfied, or was attempted by, a verification.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Setup is returned by GenerateSecret.
type Setup struct {
	Secret      string
	OTPAuthURL  string
	QRCode      string // data:image/png;base64 URL
	BackupCodes []string
}

// Status is the user's two-factor summary.
type Status struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// Config configures an Authenticator.
type Config struct {
	TOTP   TOTPConfig
	QRSize int
	Clock  clock.Clock
	Logger *zap.Logger
}

// Authenticator runs the two-factor state machine over a Store.
type Authenticator struct {
	store  Store
	totp   TOTPConfig
	qrSize int
	clock  clock.Clock
	logger *zap.Logger
}

// NewAuthenticator returns an authenticator. Zero TOTP fields take
// DefaultTOTPConfig values.
func NewAuthenticator(store Store, cfg Config) *Authenticator {
	def := DefaultTOTPConfig()
	if cfg.TOTP.Issuer == "" {
		cfg.TOTP.Issuer = def.Issuer
	}
	if cfg.TOTP.Period <= 0 {
		cfg.TOTP.Period = def.Period
	}
	if cfg.TOTP.Digits <= 0 {
		cfg.TOTP.Digits = def.Digits
	}
	if cfg.TOTP.Skew < 0 {
		cfg.TOTP.Skew = 0
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Authenticator{store: store, totp: cfg.TOTP, qrSize: cfg.QRSize, clock: cfg.Clock, logger: cfg.Logger}
}

func wrap(err error) error {
	if err == nil || errors.Is(err, ErrUserNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (a *Authenticator) swap(ctx context.Context, userID string, prev State, next Profile) error {
	ok, err := a.store.SwapTwoFactor(ctx, userID, prev, next)
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return ErrStateChanged
	}
	return nil
}

// GenerateSecret stores a new unconfirmed secret for the user.
func (a *Authenticator) GenerateSecret(ctx context.Context, userID string) (*Setup, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, wrap(err)
	}
	if p.Enabled {
		return nil, ErrAlreadyEnabled
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}
	uri := a.totp.ProvisionURI(secret, p.Email)
	png, err := qrcode.Encode(uri, qrcode.Medium, a.qrSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	codes, err := NewBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}

	next := Profile{Secret: secret, BackupCodes: hashAll(userID, codes)}
	if err := a.swap(ctx, userID, p.State(), next); err != nil {
		return nil, err
	}

	return &Setup{
		Secret:      secret,
		OTPAuthURL:  uri,
		QRCode:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		BackupCodes: codes,
	}, nil
}

// VerifyAndEnable confirms the pending secret and returns a fresh backup
// code set.
func (a *Authenticator) VerifyAndEnable(ctx context.Context, userID, code string) ([]string, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, wrap(err)
	}
	if p.Enabled {
		return nil, ErrAlreadyEnabled
	}
	if p.Secret == "" {
		return nil, ErrNoPendingSecret
	}

	ok, err := a.totp.Validate(p.Secret, code, a.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, err := NewBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	next := Profile{Secret: p.Secret, Enabled: true, BackupCodes: hashAll(userID, codes)}
	if err := a.swap(ctx, userID, p.State(), next); err != nil {
		return nil, err
	}
	a.logger.Info("two-factor enabled", zap.String("user_id", userID))
	return codes, nil
}

// VerifyToken checks code as a TOTP code, then as a backup code. A matching
// backup code is consumed. On ErrInvalidCode the returned Method is the kind
// of code the input looked like.
func (a *Authenticator) VerifyToken(ctx context.Context, userID, code string) (Method, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return "", wrap(err)
	}
	if !p.Enabled || p.Secret == "" {
		return "", ErrNotEnabled
	}

	ok, err := a.totp.Validate(p.Secret, code, a.clock.Now())
	if err != nil {
		return MethodTOTP, err
	}
	if ok {
		return MethodTOTP, nil
	}

	consumed, err := a.store.ConsumeBackupCode(ctx, userID, HashBackupCode(userID, code))
	if err != nil {
		return MethodBackupCode, wrap(err)
	}
	if consumed {
		a.logger.Info("backup code consumed", zap.String("user_id", userID))
		return MethodBackupCode, nil
	}

	if isNumeric(code) && len(code) == a.totp.Digits {
		return MethodTOTP, ErrInvalidCode
	}
	return MethodBackupCode, ErrInvalidCode
}

// Disable clears the secret and backup codes once code verifies.
func (a *Authenticator) Disable(ctx context.Context, userID, code string) error {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return wrap(err)
	}
	if !p.Enabled {
		return ErrNotEnabled
	}
	if _, err := a.VerifyToken(ctx, userID, code); err != nil {
		return err
	}

	if err := a.swap(ctx, userID, p.State(), Profile{}); err != nil {
		return err
	}
	a.logger.Info("two-factor disabled", zap.String("user_id", userID))
	return nil
}

// RegenerateBackupCodes replaces the stored set once code verifies.
func (a *Authenticator) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return nil, wrap(err)
	}
	if !p.Enabled {
		return nil, ErrNotEnabled
	}
	if _, err := a.VerifyToken(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, err := NewBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, err
	}
	next := Profile{Secret: p.Secret, Enabled: true, BackupCodes: hashAll(userID, codes)}
	if err := a.swap(ctx, userID, p.State(), next); err != nil {
		return nil, err
	}
	return codes, nil
}

// IsEnabled reports whether the user has confirmed two-factor.
func (a *Authenticator) IsEnabled(ctx context.Context, userID string) (bool, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return false, wrap(err)
	}
	return p.Enabled, nil
}

// Status reports whether two-factor is on and how many backup codes remain.
func (a *Authenticator) Status(ctx context.Context, userID string) (Status, error) {
	p, err := a.store.GetTwoFactor(ctx, userID)
	if err != nil {
		return Status{}, wrap(err)
	}
	return Status{Enabled: p.Enabled, BackupCodesRemaining: len(p.BackupCodes)}, nil
}
