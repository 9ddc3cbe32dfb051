package internaldefs

import (
	"github.com/sportsai/authcore"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued tokens."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: authcore.MetricLoginLockedOut, Name: "authcore_login_locked_out_total", Help: "Login and two-factor attempts refused by lockout."},
	{ID: authcore.MetricLoginTwoFactorRequired, Name: "authcore_login_two_factor_required_total", Help: "Logins answered with a two-factor challenge."},
	{ID: authcore.MetricSignupSuccess, Name: "authcore_signup_success_total", Help: "Accounts created by signup."},
	{ID: authcore.MetricSignupDuplicate, Name: "authcore_signup_duplicate_total", Help: "Signups rejected for a registered email."},
	{ID: authcore.MetricTwoFactorLoginSuccess, Name: "authcore_two_factor_login_success_total", Help: "Two-factor challenges completed."},
	{ID: authcore.MetricTOTPFailure, Name: "authcore_totp_failure_total", Help: "Rejected authenticator app codes."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authcore.MetricBackupCodeFailure, Name: "authcore_backup_code_failure_total", Help: "Rejected backup codes."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor enrollments confirmed."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor disabled by users."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup code sets regenerated."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Refresh tokens rotated."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Refresh tokens rejected as invalid."},
	{ID: authcore.MetricRefreshRevoked, Name: "authcore_refresh_revoked_total", Help: "Refresh tokens rejected for a revoked session."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Device sessions recorded."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Device sessions revoked by users."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts."},
	{ID: authcore.MetricOAuthSuccess, Name: "authcore_oauth_success_total", Help: "Provider logins completed."},
	{ID: authcore.MetricOAuthFailure, Name: "authcore_oauth_failure_total", Help: "Provider logins that failed."},
	{ID: authcore.MetricOAuthStateRejected, Name: "authcore_oauth_state_rejected_total", Help: "Callbacks with an unknown, expired or replayed state."},
	{ID: authcore.MetricOAuthAccountCreated, Name: "authcore_oauth_account_created_total", Help: "Accounts created by provider login."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Passwords reset with a token."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Password resets rejected."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Passwords changed by signed-in users."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Password changes rejected."},
	{ID: authcore.MetricPasswordUpgraded, Name: "authcore_password_upgraded_total", Help: "Legacy password hashes rehashed on login."},
	{ID: authcore.MetricSecretRotated, Name: "authcore_secret_rotated_total", Help: "Signing secret rotations."},
	{ID: authcore.MetricVerifyPreviousSecret, Name: "authcore_verify_previous_secret_total", Help: "Access tokens verified by a secret other than the newest."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Password login latency."},
}

// HistogramBounds are the upper bounds in seconds, matching the engine's
// millisecond buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form valid in metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
