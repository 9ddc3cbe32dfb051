package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sportsai/authcore"
	"github.com/sportsai/authcore/locale"
	"github.com/sportsai/authcore/secrets"
	"github.com/sportsai/authcore/session"
	"github.com/sportsai/authcore/twofactor"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ErrEmptyFilter is returned when a revoke call would match every row.
var ErrEmptyFilter = errors.New("postgres: revoke filter selects nothing")

const uniqueViolation = "23505"

// Store implements authcore.Store on PostgreSQL.
type Store struct {
	db DB
}

var _ authcore.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// providerColumn maps a provider name to its subject column.
func providerColumn(provider string) (string, bool) {
	switch provider {
	case "google":
		return "google_id", true
	case "github":
		return "github_id", true
	}
	return "", false
}

// -------- USERS --------

const userColumns = `id, email, password_hash, COALESCE(google_id, ''), COALESCE(github_id, ''),
	profile_picture_url, subscription_tier, role, credit_balance, two_factor_enabled, created_at`

func scanUser(row pgx.Row) (*authcore.User, error) {
	var u authcore.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.GoogleID, &u.GitHubID,
		&u.ProfilePictureURL, &u.SubscriptionTier, &u.Role, &u.CreditBalance, &u.TwoFactorEnabled, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*authcore.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) FindUserByProvider(ctx context.Context, provider, subject string) (*authcore.User, error) {
	col, ok := providerColumn(provider)
	if !ok || subject == "" {
		return nil, authcore.ErrUserNotFound
	}
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+col+` = $1`, subject))
}

func (s *Store) CreateUser(ctx context.Context, u authcore.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, google_id, github_id, profile_picture_url,
			subscription_tier, role, credit_balance, two_factor_enabled, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.PasswordHash, u.GoogleID, u.GitHubID, u.ProfilePictureURL,
		u.SubscriptionTier, u.Role, u.CreditBalance, u.TwoFactorEnabled, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return authcore.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) LinkProvider(ctx context.Context, userID, provider, subject, picture string) error {
	col, ok := providerColumn(provider)
	if !ok {
		return fmt.Errorf("link provider: unknown provider %q", provider)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET `+col+` = $2,
			profile_picture_url = CASE WHEN profile_picture_url = '' THEN $3 ELSE profile_picture_url END
		WHERE id = $1`, userID, subject, picture)
	if err != nil {
		return fmt.Errorf("link provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// -------- PREFERENCES --------

func (s *Store) GetPreferences(ctx context.Context, userID string) (locale.Preferences, error) {
	var p locale.Preferences
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(language, ''), COALESCE(theme, ''), COALESCE(odds_format, ''), COALESCE(timezone, '')
		FROM users WHERE id = $1`, userID).
		Scan(&p.Display.Language, &p.Display.Theme, &p.Display.OddsFormat, &p.Display.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return locale.Preferences{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return locale.Preferences{}, fmt.Errorf("select preferences: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePreferences(ctx context.Context, userID string, p locale.Preferences) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET language = NULLIF($2, ''), theme = NULLIF($3, ''),
			odds_format = NULLIF($4, ''), timezone = NULLIF($5, '')
		WHERE id = $1`,
		userID, p.Display.Language, p.Display.Theme, p.Display.OddsFormat, p.Display.Timezone)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

// -------- PASSWORD RESET --------

func (s *Store) CreatePasswordResetToken(ctx context.Context, t authcore.ResetToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

func (s *Store) InvalidateOpenResetTokens(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("invalidate reset tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) FindResetToken(ctx context.Context, tokenHash string) (*authcore.ResetToken, error) {
	var (
		t    authcore.ResetToken
		used *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, used_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrResetTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reset token: %w", err)
	}
	t.UsedAt = timeOrZero(used)
	return &t, nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, at time.Time) (userID string, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id`, tokenHash, at).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", authcore.ErrResetTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = authcore.ErrResetTokenNotFound
		return "", err
	}
	if err = tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return userID, nil
}

// -------- TWO-FACTOR --------

func (s *Store) GetTwoFactor(ctx context.Context, userID string) (twofactor.Profile, error) {
	var p twofactor.Profile
	err := s.db.QueryRow(ctx, `
		SELECT email, COALESCE(two_factor_secret, ''), two_factor_enabled, backup_codes
		FROM users WHERE id = $1`, userID).
		Scan(&p.Email, &p.Secret, &p.Enabled, &p.BackupCodes)
	if errors.Is(err, pgx.ErrNoRows) {
		return twofactor.Profile{}, twofactor.ErrUserNotFound
	}
	if err != nil {
		return twofactor.Profile{}, fmt.Errorf("select two-factor: %w", err)
	}
	return p, nil
}

// SwapTwoFactor reports false both for a moved state and for a user that
// no longer exists.
func (s *Store) SwapTwoFactor(ctx context.Context, userID string, prev twofactor.State, next twofactor.Profile) (bool, error) {
	codes := next.BackupCodes
	if codes == nil {
		codes = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET two_factor_secret = NULLIF($2, ''), two_factor_enabled = $3, backup_codes = $4
		WHERE id = $1 AND two_factor_enabled = $5 AND COALESCE(two_factor_secret, '') = $6`,
		userID, next.Secret, next.Enabled, codes, prev.Enabled, prev.Secret)
	if err != nil {
		return false, fmt.Errorf("swap two-factor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET backup_codes = array_remove(backup_codes, $2)
		WHERE id = $1 AND $2 = ANY(backup_codes)`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// -------- DEVICE SESSIONS --------

const sessionColumns = `id, user_id, refresh_token_hash, device_name, device_type, browser, os,
	ip_address, location, created_at, last_active_at, expires_at, is_revoked, revoked_at`

func scanSession(row pgx.Row) (session.Session, error) {
	var (
		s       session.Session
		revoked *time.Time
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.DeviceName, &s.DeviceType, &s.Browser, &s.OS,
		&s.IPAddress, &s.Location, &s.CreatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.Revoked, &revoked)
	s.RevokedAt = timeOrZero(revoked)
	return s, err
}

func (s *Store) CreateDeviceSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_sessions (id, user_id, refresh_token_hash, device_name, device_type, browser, os,
			ip_address, location, created_at, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.ID, sess.UserID, sess.RefreshTokenHash, sess.DeviceName, sess.DeviceType, sess.Browser, sess.OS,
		sess.IPAddress, sess.Location, sess.CreatedAt, sess.LastActiveAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert device session: %w", err)
	}
	return nil
}

func (s *Store) FindDeviceSessionByTokenHash(ctx context.Context, hash string) (*session.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM device_sessions WHERE refresh_token_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select device session: %w", err)
	}
	return &sess, nil
}

func (s *Store) UpdateDeviceSession(ctx context.Context, hash string, lastActive time.Time, ip string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE device_sessions SET last_active_at = $2, ip_address = COALESCE(NULLIF($3, ''), ip_address)
		WHERE refresh_token_hash = $1 AND NOT is_revoked`, hash, lastActive, ip)
	if err != nil {
		return fmt.Errorf("update device session: %w", err)
	}
	return nil
}

func (s *Store) ListDeviceSessions(ctx context.Context, userID string, now time.Time) ([]session.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM device_sessions
		WHERE user_id = $1 AND NOT is_revoked AND expires_at > $2
		ORDER BY last_active_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list device sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list device sessions: %w", err)
	}
	return out, nil
}

// RevokeDeviceSessions revokes live rows matching f. The NOT is_revoked
// predicate makes the statement a compare-and-set: of two racing calls on
// one row only one sees it affected.
func (s *Store) RevokeDeviceSessions(ctx context.Context, f session.RevokeFilter, at time.Time) (int, error) {
	where, args := revokeWhere(f, at)
	if where == "" {
		return 0, ErrEmptyFilter
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE device_sessions SET is_revoked = TRUE, revoked_at = $1 WHERE NOT is_revoked`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke device sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func revokeWhere(f session.RevokeFilter, at time.Time) (string, []any) {
	var b strings.Builder
	args := []any{at}
	add := func(cond, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		b.WriteString(" AND ")
		b.WriteString(cond)
		b.WriteString(" $")
		b.WriteString(strconv.Itoa(len(args)))
	}
	add("user_id =", f.UserID)
	add("id =", f.SessionID)
	add("refresh_token_hash =", f.TokenHash)
	add("refresh_token_hash <>", f.ExceptTokenHash)
	return b.String(), args
}

func (s *Store) DeleteDeviceSessions(ctx context.Context, expiredBefore, revokedBefore time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM device_sessions
		WHERE expires_at < $1 OR (is_revoked AND revoked_at < $2)`, expiredBefore, revokedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete device sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// -------- SIGNING SECRETS --------

func (s *Store) CreateSigningSecret(ctx context.Context, sec secrets.Secret) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jwt_secrets (id, secret, version, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sec.ID, sec.Material, sec.Version, sec.CreatedAt, sec.ExpiresAt, sec.Active)
	if err != nil {
		return fmt.Errorf("insert signing secret: %w", err)
	}
	return nil
}

func (s *Store) DeactivateSigningSecret(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jwt_secrets SET is_active = FALSE, rotated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("deactivate signing secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return secrets.ErrNoActiveSecret
	}
	return nil
}

func (s *Store) ListSigningSecrets(ctx context.Context) ([]secrets.Secret, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, secret, version, created_at, expires_at, is_active, rotated_at
		FROM jwt_secrets ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list signing secrets: %w", err)
	}
	defer rows.Close()

	var out []secrets.Secret
	for rows.Next() {
		var (
			sec     secrets.Secret
			rotated *time.Time
		)
		if err := rows.Scan(&sec.ID, &sec.Material, &sec.Version, &sec.CreatedAt, &sec.ExpiresAt, &sec.Active, &rotated); err != nil {
			return nil, fmt.Errorf("scan signing secret: %w", err)
		}
		sec.RotatedAt = timeOrZero(rotated)
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signing secrets: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteSigningSecrets(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM jwt_secrets WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete signing secrets: %w", err)
	}
	return nil
}
