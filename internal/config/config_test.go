package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managed = []string{
	"APP_ENV", "HTTP_ADDR", "DATABASE_URL", "REDIS_ADDR", "REDIS_DISABLED", "FRONTEND_URL",
	"JWT_SECRET", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_CALLBACK_URL",
	"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_CALLBACK_URL", "OAUTH_ALLOWED_REDIRECTS",
	"ROTATION_INTERVAL_DAYS", "TRANSITION_PERIOD_DAYS", "MAX_SECRET_HISTORY", "DEV_COUNTRY_CODE",
}

// clearEnv blanks every variable Load reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managed {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "fallback")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3001", s.HTTPAddr)
	assert.True(t, s.Production())
	assert.Equal(t, "localhost:6379", s.RedisAddr)
	assert.Equal(t, "fallback", s.Engine.Rotation.FallbackSecret)
	assert.Equal(t, 90*24*time.Hour, s.Engine.Rotation.Interval)
	assert.Equal(t, 3, s.Engine.Rotation.MaxHistory)
	assert.Empty(t, s.Engine.OAuth.AllowedRedirects)
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"JWT_SECRET=from-file\n"+
			"APP_ENV=development\n"+
			"FRONTEND_URL=https://app.sportsai.test/\n"+
			"GOOGLE_CLIENT_ID=google-id\n"+
			"ROTATION_INTERVAL_DAYS=30\n"+
			"TRANSITION_PERIOD_DAYS=2\n"+
			"MAX_SECRET_HISTORY=5\n"+
			"DEV_COUNTRY_CODE=es\n"+
			"OAUTH_ALLOWED_REDIRECTS=https://a.test/cb, https://b.test/cb\n"+
			"REDIS_DISABLED=true\n",
	), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.Development())
	assert.Empty(t, s.RedisAddr)
	assert.Equal(t, "from-file", s.Engine.Rotation.FallbackSecret)
	assert.Equal(t, "google-id", s.Engine.OAuth.Google.ClientID)
	assert.Equal(t, 30*24*time.Hour, s.Engine.Rotation.Interval)
	assert.Equal(t, 2*24*time.Hour, s.Engine.Rotation.TransitionPeriod)
	assert.Equal(t, 5, s.Engine.Rotation.MaxHistory)
	assert.Equal(t, "ES", s.Engine.Locale.DevCountryCode)
	assert.Equal(t, "https://app.sportsai.test", s.FrontendURL)
	assert.Equal(t, []string{"https://a.test/cb", "https://b.test/cb"}, s.Engine.OAuth.AllowedRedirects)
}

func TestProcessEnvBeatsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nHTTP_ADDR=:9000\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":8080")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", s.HTTPAddr)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "x")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":        {},
		"non-numeric history":   {"JWT_SECRET": "x", "MAX_SECRET_HISTORY": "many"},
		"zero interval":         {"JWT_SECRET": "x", "ROTATION_INTERVAL_DAYS": "0"},
		"renew beyond interval": {"JWT_SECRET": "x", "ROTATION_INTERVAL_DAYS": "5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
