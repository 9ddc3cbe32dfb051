package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sportsai/authcore/internal/clock"
	"github.com/sportsai/authcore/internal/randutil"
)

var (
	// ErrNotFound is returned by a Store when no row matches a hash.
	ErrNotFound = errors.New("device session not found")
	// ErrRevoked is returned by Rotate when the session was revoked or
	// already rotated by a concurrent refresh.
	ErrRevoked = errors.New("device session revoked")
	// ErrStoreUnavailable wraps credential store failures.
	ErrStoreUnavailable = errors.New("device session store unavailable")
)

// Session is one device session row.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	DeviceName       string
	DeviceType       string
	Browser          string
	OS               string
	IPAddress        string
	Location         string
	CreatedAt        time.Time
	LastActiveAt     time.Time
	ExpiresAt        time.Time
	Revoked          bool
	RevokedAt        time.Time
}

// RevokeFilter selects live rows to revoke. Empty fields do not filter.
type RevokeFilter struct {
	UserID          string
	SessionID       string
	TokenHash       string
	ExceptTokenHash string
}

// Store persists device sessions. Each call is atomic at row level.
type Store interface {
	CreateDeviceSession(ctx context.Context, s Session) error
	FindDeviceSessionByTokenHash(ctx context.Context, hash string) (*Session, error)
	// UpdateDeviceSession touches a non-revoked row. An empty ip keeps the
	// stored address.
	UpdateDeviceSession(ctx context.Context, hash string, lastActive time.Time, ip string) error
	// ListDeviceSessions returns the user's non-revoked, unexpired rows.
	ListDeviceSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
	RevokeDeviceSessions(ctx context.Context, f RevokeFilter, at time.Time) (int, error)
	// DeleteDeviceSessions removes rows expired before expiredBefore and
	// revoked rows whose revocation is older than revokedBefore.
	DeleteDeviceSessions(ctx context.Context, expiredBefore, revokedBefore time.Time) (int, error)
}

// Info is a session as shown to its owner.
type Info struct {
	ID           string    `json:"id"`
	DeviceName   string    `json:"deviceName"`
	DeviceType   string    `json:"deviceType"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	IPAddress    string    `json:"ipAddress"`
	Location     string    `json:"location"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time `json:"createdAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// Config configures a Registry.
type Config struct {
	// TTL is the session lifetime. It matches the refresh token lifetime.
	TTL time.Duration
	// RevokedRetention is how long revoked rows are kept before cleanup.
	RevokedRetention time.Duration
	Clock            clock.Clock
	Logger           *zap.Logger
}

// DefaultConfig is a 7 day session with 30 day revoked retention.
func DefaultConfig() Config {
	return Config{TTL: 7 * 24 * time.Hour, RevokedRetention: 30 * 24 * time.Hour}
}

// Registry records and revokes device sessions.
type Registry struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

// NewRegistry returns a registry over store. Zero durations take defaults.
func NewRegistry(store Store, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.RevokedRetention <= 0 {
		cfg.RevokedRetention = def.RevokedRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{store: store, cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}
}

// HashToken is the one-way, deterministic hash applied to refresh tokens.
func HashToken(refreshToken string) string {
	return randutil.SHA256Hex(refreshToken)
}

func wrap(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRevoked) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Create records a new session for refreshToken.
func (r *Registry) Create(ctx context.Context, userID, refreshToken, userAgent, ip string) (Session, error) {
	device := ParseUserAgent(userAgent)
	now := r.clock.Now()
	s := Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		RefreshTokenHash: HashToken(refreshToken),
		DeviceName:       device.Name,
		DeviceType:       device.Type,
		Browser:          device.Browser,
		OS:               device.OS,
		IPAddress:        ip,
		CreatedAt:        now,
		LastActiveAt:     now,
		ExpiresAt:        now.Add(r.cfg.TTL),
	}
	if err := r.store.CreateDeviceSession(ctx, s); err != nil {
		return Session{}, wrap(err)
	}
	r.logger.Debug("device session created",
		zap.String("user_id", userID),
		zap.String("session_id", s.ID),
		zap.String("device", s.DeviceName),
	)
	return s, nil
}

// IsValid reports whether refreshToken may still be used. A token with no
// row predates session tracking and is allowed.
func (r *Registry) IsValid(ctx context.Context, refreshToken string) (bool, error) {
	s, err := r.store.FindDeviceSessionByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return !s.Revoked && s.ExpiresAt.After(r.clock.Now()), nil
}

// UpdateActivity bumps lastActiveAt on the token's live row.
func (r *Registry) UpdateActivity(ctx context.Context, refreshToken, ip string) error {
	return wrap(r.store.UpdateDeviceSession(ctx, HashToken(refreshToken), r.clock.Now(), ip))
}

// Rotate moves the device session of oldToken onto newToken: the old row
// is revoked and a new row with the same device details is recorded.
// It returns ErrNotFound when oldToken has no row and ErrRevoked when the
// row is no longer live, including when a concurrent call rotated it first.
func (r *Registry) Rotate(ctx context.Context, oldToken, newToken, ip string) (Session, error) {
	prev, err := r.store.FindDeviceSessionByTokenHash(ctx, HashToken(oldToken))
	if err != nil {
		return Session{}, wrap(err)
	}
	now := r.clock.Now()
	if prev.Revoked || !prev.ExpiresAt.After(now) {
		return Session{}, ErrRevoked
	}

	n, err := r.store.RevokeDeviceSessions(ctx, RevokeFilter{TokenHash: prev.RefreshTokenHash}, now)
	if err != nil {
		return Session{}, wrap(err)
	}
	if n == 0 {
		return Session{}, ErrRevoked
	}

	next := *prev
	next.ID = uuid.NewString()
	next.RefreshTokenHash = HashToken(newToken)
	next.LastActiveAt = now
	next.ExpiresAt = now.Add(r.cfg.TTL)
	next.Revoked = false
	next.RevokedAt = time.Time{}
	if ip != "" {
		next.IPAddress = ip
	}
	if err := r.store.CreateDeviceSession(ctx, next); err != nil {
		return Session{}, wrap(err)
	}
	r.logger.Debug("device session rotated",
		zap.String("user_id", next.UserID),
		zap.String("previous_session_id", prev.ID),
		zap.String("session_id", next.ID),
	)
	return next, nil
}

// List returns the user's live sessions, most recently active first.
// currentRefreshToken may be empty.
func (r *Registry) List(ctx context.Context, userID, currentRefreshToken string) ([]Info, error) {
	rows, err := r.store.ListDeviceSessions(ctx, userID, r.clock.Now())
	if err != nil {
		return nil, wrap(err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].LastActiveAt.After(rows[j].LastActiveAt) })

	var current string
	if currentRefreshToken != "" {
		current = HashToken(currentRefreshToken)
	}
	out := make([]Info, 0, len(rows))
	for _, s := range rows {
		out = append(out, Info{
			ID:           s.ID,
			DeviceName:   s.DeviceName,
			DeviceType:   s.DeviceType,
			Browser:      s.Browser,
			OS:           s.OS,
			IPAddress:    s.IPAddress,
			Location:     s.Location,
			LastActiveAt: s.LastActiveAt,
			CreatedAt:    s.CreatedAt,
			IsCurrent:    current != "" && s.RefreshTokenHash == current,
		})
	}
	return out, nil
}

// Revoke revokes one of the user's live sessions. It reports false when
// no such session exists.
func (r *Registry) Revoke(ctx context.Context, sessionID, userID string) (bool, error) {
	n, err := r.store.RevokeDeviceSessions(ctx, RevokeFilter{UserID: userID, SessionID: sessionID}, r.clock.Now())
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// RevokeOthers revokes every live session of the user except the one
// holding currentRefreshToken.
func (r *Registry) RevokeOthers(ctx context.Context, userID, currentRefreshToken string) (int, error) {
	n, err := r.store.RevokeDeviceSessions(ctx, RevokeFilter{
		UserID:          userID,
		ExceptTokenHash: HashToken(currentRefreshToken),
	}, r.clock.Now())
	return n, wrap(err)
}

// RevokeAll revokes every live session of the user.
func (r *Registry) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := r.store.RevokeDeviceSessions(ctx, RevokeFilter{UserID: userID}, r.clock.Now())
	return n, wrap(err)
}

// RevokeByToken revokes the session holding refreshToken, if any.
func (r *Registry) RevokeByToken(ctx context.Context, refreshToken string) error {
	_, err := r.store.RevokeDeviceSessions(ctx, RevokeFilter{TokenHash: HashToken(refreshToken)}, r.clock.Now())
	return wrap(err)
}

// Cleanup deletes expired rows and rows revoked more than RevokedRetention
// ago.
func (r *Registry) Cleanup(ctx context.Context) (int, error) {
	now := r.clock.Now()
	n, err := r.store.DeleteDeviceSessions(ctx, now, now.Add(-r.cfg.RevokedRetention))
	return n, wrap(err)
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (r *Registry) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Cleanup(ctx)
			if err != nil {
				r.logger.Warn("device session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("device session cleanup", zap.Int("removed", n))
			}
		}
	}
}
