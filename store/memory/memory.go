package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/locale"
	"github.com/sportsai/authcore/secrets"
	"github.com/sportsai/authcore/session"
	"github.com/sportsai/authcore/twofactor"
)

type userRow struct {
	user        authcore.User
	prefs       locale.Preferences
	totpSecret  string
	backupCodes []string
}

// Store keeps every entity in maps behind a single mutex.
type Store struct {
	mu       sync.Mutex
	users    map[string]*userRow
	byEmail  map[string]string
	resets   map[string]authcore.ResetToken
	sessions map[string]session.Session
	secrets  map[string]secrets.Secret
}

var _ authcore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]*userRow),
		byEmail:  make(map[string]string),
		resets:   make(map[string]authcore.ResetToken),
		sessions: make(map[string]session.Session),
		secrets:  make(map[string]secrets.Secret),
	}
}

// -------- USERS --------

func (s *Store) FindUserByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	u := s.users[id].user
	return &u, nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	u := row.user
	return &u, nil
}

func (s *Store) FindUserByProvider(_ context.Context, provider, subject string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.users {
		if subject != "" && providerSubject(&row.user, provider) == subject {
			u := row.user
			return &u, nil
		}
	}
	return nil, authcore.ErrUserNotFound
}

func providerSubject(u *authcore.User, provider string) string {
	switch provider {
	case "google":
		return u.GoogleID
	case "github":
		return u.GitHubID
	}
	return ""
}

func (s *Store) CreateUser(_ context.Context, u authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return authcore.ErrEmailTaken
	}
	s.users[u.ID] = &userRow{user: u}
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	row.user.PasswordHash = hash
	return nil
}

func (s *Store) LinkProvider(_ context.Context, userID, provider, subject, picture string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	switch provider {
	case "google":
		row.user.GoogleID = subject
	case "github":
		row.user.GitHubID = subject
	}
	if row.user.ProfilePictureURL == "" {
		row.user.ProfilePictureURL = picture
	}
	return nil
}

// -------- PREFERENCES --------

func (s *Store) GetPreferences(_ context.Context, userID string) (locale.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return locale.Preferences{}, authcore.ErrUserNotFound
	}
	return row.prefs, nil
}

func (s *Store) UpdatePreferences(_ context.Context, userID string, p locale.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	row.prefs = p
	return nil
}

// -------- PASSWORD RESET --------

func (s *Store) CreatePasswordResetToken(_ context.Context, t authcore.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[t.TokenHash] = t
	return nil
}

func (s *Store) InvalidateOpenResetTokens(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, t := range s.resets {
		if t.UserID == userID && t.UsedAt.IsZero() {
			t.UsedAt = at
			s.resets[hash] = t
			n++
		}
	}
	return n, nil
}

func (s *Store) FindResetToken(_ context.Context, tokenHash string) (*authcore.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[tokenHash]
	if !ok {
		return nil, authcore.ErrResetTokenNotFound
	}
	return &t, nil
}

func (s *Store) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.resets[tokenHash]
	if !ok || !t.UsedAt.IsZero() || !t.ExpiresAt.After(at) {
		return "", authcore.ErrResetTokenNotFound
	}
	row, ok := s.users[t.UserID]
	if !ok {
		return "", authcore.ErrResetTokenNotFound
	}
	t.UsedAt = at
	s.resets[tokenHash] = t
	row.user.PasswordHash = passwordHash
	return t.UserID, nil
}

// -------- TWO-FACTOR --------

func (s *Store) GetTwoFactor(_ context.Context, userID string) (twofactor.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return twofactor.Profile{}, twofactor.ErrUserNotFound
	}
	return twofactor.Profile{
		Email:       row.user.Email,
		Secret:      row.totpSecret,
		Enabled:     row.user.TwoFactorEnabled,
		BackupCodes: append([]string(nil), row.backupCodes...),
	}, nil
}

func (s *Store) SwapTwoFactor(_ context.Context, userID string, prev twofactor.State, next twofactor.Profile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return false, twofactor.ErrUserNotFound
	}
	if row.user.TwoFactorEnabled != prev.Enabled || row.totpSecret != prev.Secret {
		return false, nil
	}
	row.totpSecret = next.Secret
	row.user.TwoFactorEnabled = next.Enabled
	row.backupCodes = append([]string(nil), next.BackupCodes...)
	return true, nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[userID]
	if !ok {
		return false, twofactor.ErrUserNotFound
	}
	for i, h := range row.backupCodes {
		if h == hash {
			row.backupCodes = append(row.backupCodes[:i:i], row.backupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// -------- DEVICE SESSIONS --------

func (s *Store) CreateDeviceSession(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) FindDeviceSessionByTokenHash(_ context.Context, hash string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.RefreshTokenHash == hash {
			out := sess
			return &out, nil
		}
	}
	return nil, session.ErrNotFound
}

func (s *Store) UpdateDeviceSession(_ context.Context, hash string, lastActive time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.RefreshTokenHash != hash || sess.Revoked {
			continue
		}
		sess.LastActiveAt = lastActive
		if ip != "" {
			sess.IPAddress = ip
		}
		s.sessions[id] = sess
	}
	return nil
}

func (s *Store) ListDeviceSessions(_ context.Context, userID string, now time.Time) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Revoked && sess.ExpiresAt.After(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// RevokeDeviceSessions revokes matching live rows. The check and the
// update happen under one lock, so two racing callers cannot both revoke
// the same row.
func (s *Store) RevokeDeviceSessions(_ context.Context, f session.RevokeFilter, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Revoked || !matches(sess, f) {
			continue
		}
		sess.Revoked = true
		sess.RevokedAt = at
		s.sessions[id] = sess
		n++
	}
	return n, nil
}

func matches(sess session.Session, f session.RevokeFilter) bool {
	if f.UserID != "" && sess.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && sess.ID != f.SessionID {
		return false
	}
	if f.TokenHash != "" && sess.RefreshTokenHash != f.TokenHash {
		return false
	}
	if f.ExceptTokenHash != "" && sess.RefreshTokenHash == f.ExceptTokenHash {
		return false
	}
	return true
}

func (s *Store) DeleteDeviceSessions(_ context.Context, expiredBefore, revokedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(expiredBefore) || (sess.Revoked && sess.RevokedAt.Before(revokedBefore)) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// -------- SIGNING SECRETS --------

func (s *Store) CreateSigningSecret(_ context.Context, sec secrets.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec.Material = append([]byte(nil), sec.Material...)
	s.secrets[sec.ID] = sec
	return nil
}

func (s *Store) DeactivateSigningSecret(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return secrets.ErrNoActiveSecret
	}
	sec.Active = false
	sec.RotatedAt = at
	s.secrets[id] = sec
	return nil
}

func (s *Store) ListSigningSecrets(context.Context) ([]secrets.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]secrets.Secret, 0, len(s.secrets))
	for _, sec := range s.secrets {
		out = append(out, sec)
	}
	return out, nil
}

func (s *Store) DeleteSigningSecrets(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.secrets, id)
	}
	return nil
}
