package authcore

import (
	"context"
	"time"

	"github.com/sportsai/authcore/locale"
	"github.com/sportsai/authcore/secrets"
	"github.com/sportsai/authcore/session"
	"github.com/sportsai/authcore/twofactor"
)

// User is the account record the engine reads and writes.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	GoogleID          string
	GitHubID          string
	ProfilePictureURL string
	SubscriptionTier  string
	Role              string
	CreditBalance     int
	TwoFactorEnabled  bool
	CreatedAt         time.Time
}

// UserStore persists user records. Lookups that miss return
// ErrUserNotFound; CreateUser returns ErrEmailTaken on a duplicate email.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByProvider(ctx context.Context, provider, subject string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	// LinkProvider sets the provider subject on the user and fills the
	// profile picture when the user has none.
	LinkProvider(ctx context.Context, userID, provider, subject, picture string) error
}

// PreferenceStore persists the typed preference subset.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (locale.Preferences, error)
	UpdatePreferences(ctx context.Context, userID string, p locale.Preferences) error
}

// ResetToken is a password reset row. Only the token hash is stored.
type ResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    time.Time
}

// ResetStore persists password reset tokens.
type ResetStore interface {
	CreatePasswordResetToken(ctx context.Context, t ResetToken) error
	// InvalidateOpenResetTokens marks every unused token of the user used.
	InvalidateOpenResetTokens(ctx context.Context, userID string, at time.Time) (int, error)
	// FindResetToken returns ErrResetTokenNotFound on a miss.
	FindResetToken(ctx context.Context, tokenHash string) (*ResetToken, error)
	// ConsumeResetToken marks an unused, unexpired token used and sets the
	// owner's password hash in one transaction. It returns the owner's id,
	// or ErrResetTokenNotFound when no such token exists.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, at time.Time) (string, error)
}

// Store is a credential store serving every component.
type Store interface {
	UserStore
	PreferenceStore
	ResetStore
	session.Store
	twofactor.Store
	secrets.Store
}

// UserView is the account summary returned with tokens.
type UserView struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	SubscriptionTier string `json:"subscriptionTier"`
	Role             string `json:"role"`
	CreditBalance    int    `json:"creditBalance"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

func viewOf(u *User) UserView {
	return UserView{
		ID:               u.ID,
		Email:            u.Email,
		SubscriptionTier: u.SubscriptionTier,
		Role:             u.Role,
		CreditBalance:    u.CreditBalance,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

// Tokens is a freshly issued pair plus the account it belongs to.
type Tokens struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int      `json:"expiresIn"`
	User         UserView `json:"user"`
	// SessionID is empty when no user agent was supplied.
	SessionID string `json:"-"`
}

// LoginResult is either Tokens or a two-factor challenge. Exactly one of
// Tokens and RequiresTwoFactor is set.
type LoginResult struct {
	Tokens            *Tokens `json:"-"`
	RequiresTwoFactor bool    `json:"requiresTwoFactor,omitempty"`
	UserID            string  `json:"userId,omitempty"`
	Message           string  `json:"message,omitempty"`
}

// RefreshResult is a rotated token pair.
type RefreshResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// TwoFactorSetupResult is shown to the user once during setup.
type TwoFactorSetupResult struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauthUrl"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}

// SessionListResult lists the caller's live device sessions.
type SessionListResult struct {
	Sessions []session.Info `json:"sessions"`
	Total    int            `json:"total"`
}

// OAuthAuthorizeResult carries the upstream URL to redirect to.
type OAuthAuthorizeResult struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// OAuthCallbackResult is a completed provider login.
type OAuthCallbackResult struct {
	Tokens
	Provider string `json:"provider"`
	Created  bool   `json:"created"`
	Linked   bool   `json:"linked"`
}

// ResetValidation reports whether a reset token can still be used.
type ResetValidation struct {
	Valid bool   `json:"valid"`
	Email string `json:"email,omitempty"`
}
