package platform

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AuthMode selects between live token handling and the development
// substitution that serves configured users and canned responses.
type AuthMode string

const (
	// AuthModeLive refreshes and decodes real credentials.
	AuthModeLive AuthMode = "live"
	// AuthModeMock serves the configured mock users and mock responses.
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (m *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "live", "mock":
		*m = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: live, mock)", v)
	}
}

// Config holds the session configuration. Zero values for the optional
// fields are filled in by Validate.
type Config struct {
	// BaseURL is the backend origin requests are issued against and the
	// default post-login destination.
	BaseURL string `env:"BASE_URL"`

	// LoginURL and LogoutURL are server-owned pages the library redirects to.
	LoginURL  string `env:"LOGIN_URL"`
	LogoutURL string `env:"LOGOUT_URL"`

	// RefreshEndpoint is POSTed to obtain a fresh credential cookie. It may
	// be absolute or relative to BaseURL.
	RefreshEndpoint string `env:"REFRESH_ENDPOINT" envDefault:"/login_refresh"`

	// CredentialCookieName names the cookie carrying the signed credential.
	CredentialCookieName string `env:"CREDENTIAL_COOKIE_NAME" envDefault:"session-jwt"`

	// CSRFTokenAPIPath is GET-ed (relative to BaseURL) to obtain the
	// anti-forgery token for state-mutating requests.
	CSRFTokenAPIPath string `env:"CSRF_TOKEN_API_PATH" envDefault:"/csrf/api/v1/token"`

	// AccountAPIPath is the profile lookup used by HydrateAuthenticatedUser,
	// keyed by username.
	AccountAPIPath string `env:"ACCOUNT_API_PATH" envDefault:"/api/user/v1/accounts"`

	// Mode switches the development substitution on. Defaults to live.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"live"`

	// RequestTimeout bounds each outgoing request.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	// CacheTTL is the default lifetime for cached GET responses; responses
	// carrying Cache-Control max-age override it.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	// RedisAddr, when set, enables the redis-backed persistent response
	// cache for the cached client variants.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig reads configuration from the environment (prefix PLATFORM_),
// loading a .env file first when one exists.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PLATFORM_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields, normalizes the optional ones and reports
// every problem found at once.
func (c *Config) Validate() error {
	var problems []string

	for _, f := range []struct{ name, value string }{
		{"BaseURL", c.BaseURL},
		{"LoginURL", c.LoginURL},
		{"LogoutURL", c.LogoutURL},
	} {
		if f.value == "" {
			problems = append(problems, f.name+" is required")
		} else if _, err := url.Parse(f.value); err != nil {
			problems = append(problems, fmt.Sprintf("%s is not a valid URL: %v", f.name, err))
		}
	}

	if c.RefreshEndpoint == "" {
		c.RefreshEndpoint = "/login_refresh"
	}
	if c.CredentialCookieName == "" {
		c.CredentialCookieName = "session-jwt"
	}
	if c.CSRFTokenAPIPath == "" {
		c.CSRFTokenAPIPath = "/csrf/api/v1/token"
	}
	if c.AccountAPIPath == "" {
		c.AccountAPIPath = "/api/user/v1/accounts"
	}
	if c.Mode == "" {
		c.Mode = AuthModeLive
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}

	if len(problems) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

// resolveURL joins a possibly-relative endpoint with the base URL.
func (c *Config) resolveURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	if u.IsAbs() {
		return endpoint
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return endpoint
	}
	return base.ResolveReference(u).String()
}
