package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sportsai/authcore"
)

const (
	defaultHTTPAddr    = ":3001"
	defaultFrontendURL = "http://localhost:5173"
	defaultRedisAddr   = "localhost:6379"
)

// Settings is everything cmd/authcored needs to start.
type Settings struct {
	Engine      authcore.Config
	Env         string
	HTTPAddr    string
	DatabaseURL string
	// RedisAddr is empty when Redis is disabled; in-process stores are used.
	RedisAddr   string
	FrontendURL string
}

// Production reports whether cookies must be Secure.
func (s *Settings) Production() bool {
	return s.Env == "production"
}

// Development selects the console logger.
func (s *Settings) Development() bool {
	return s.Env == "development"
}

// Load reads envFile when it exists, then the environment. Variables
// already set in the process win over the file.
func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	s := &Settings{
		Engine:      authcore.DefaultConfig(),
		Env:         stringOr("APP_ENV", "production"),
		HTTPAddr:    stringOr("HTTP_ADDR", defaultHTTPAddr),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   stringOr("REDIS_ADDR", defaultRedisAddr),
		FrontendURL: strings.TrimRight(stringOr("FRONTEND_URL", defaultFrontendURL), "/"),
	}
	if os.Getenv("REDIS_DISABLED") == "true" {
		s.RedisAddr = ""
	}

	cfg := &s.Engine
	cfg.Rotation.FallbackSecret = os.Getenv("JWT_SECRET")
	cfg.OAuth.Google = authcore.ProviderCredentials{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		CallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),
	}
	cfg.OAuth.GitHub = authcore.ProviderCredentials{
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		CallbackURL:  os.Getenv("GITHUB_CALLBACK_URL"),
	}
	cfg.OAuth.AllowedRedirects = list("OAUTH_ALLOWED_REDIRECTS")
	cfg.Locale.DevCountryCode = strings.ToUpper(os.Getenv("DEV_COUNTRY_CODE"))

	var err error
	if cfg.Rotation.Interval, err = days("ROTATION_INTERVAL_DAYS", cfg.Rotation.Interval); err != nil {
		return nil, err
	}
	if cfg.Rotation.TransitionPeriod, err = days("TRANSITION_PERIOD_DAYS", cfg.Rotation.TransitionPeriod); err != nil {
		return nil, err
	}
	if cfg.Rotation.MaxHistory, err = integer("MAX_SECRET_HISTORY", cfg.Rotation.MaxHistory); err != nil {
		return nil, err
	}

	if cfg.Rotation.FallbackSecret == "" {
		return nil, errors.New("config: JWT_SECRET is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func days(key string, def time.Duration) (time.Duration, error) {
	n, err := integer(key, -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return def, nil
	}
	return time.Duration(n) * 24 * time.Hour, nil
}
