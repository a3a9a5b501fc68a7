package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

// singleflight keys, one per credential type.
const (
	credentialFlightKey = "credential"
	csrfFlightKey       = "csrf"
)

// Credential is the decoded bearer token proving the session's identity.
// Claims are read without signature verification: the token comes from a
// first-party cookie or refresh endpoint and verification is the backend's
// responsibility.
type Credential struct {
	Raw           string
	ExpiresAt     time.Time
	UserID        string
	Username      string
	Email         string
	Name          string
	Roles         []string
	Administrator bool
}

// Expired reports whether the credential must not be used anymore.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && !time.Now().Before(c.ExpiresAt)
}

func (c *Credential) user() *User {
	return &User{
		UserID:        c.UserID,
		Username:      c.Username,
		Email:         c.Email,
		Name:          c.Name,
		Roles:         append([]string(nil), c.Roles...),
		Administrator: c.Administrator,
	}
}

// CookieReader abstracts the cookie storage the credential is read from.
type CookieReader interface {
	Read(name string) (string, bool)
}

// jarCookieReader reads cookies the underlying http.Client's jar holds for
// the configured base URL.
type jarCookieReader struct {
	jar  http.CookieJar
	base *url.URL
}

func (r *jarCookieReader) Read(name string) (string, bool) {
	if r.jar == nil || r.base == nil {
		return "", false
	}
	for _, c := range r.jar.Cookies(r.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// TokenProvider owns the access credential and the anti-forgery token.
// Each is fetched through a coalesced in-flight call: concurrent callers
// during a refresh all observe the outcome of that single refresh, and the
// in-flight marker is cleared on settlement.
type TokenProvider struct {
	cfg     Config
	http    *http.Client
	cookies CookieReader
	logger  Logger
	metrics *MetricsCollector

	flight singleflight.Group

	mu         sync.Mutex
	credential *Credential
	csrfToken  string
}

// NewTokenProvider builds a provider around a bare HTTP client. The client
// must carry no auth middleware (refresh and CSRF fetches would recurse) and
// should share its cookie jar with the reader so refreshed cookies are
// visible.
func NewTokenProvider(cfg Config, httpClient *http.Client, cookies CookieReader, logger Logger, metrics *MetricsCollector) *TokenProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &TokenProvider{
		cfg:     cfg,
		http:    httpClient,
		cookies: cookies,
		logger:  logger,
		metrics: metrics,
	}
}

// Credential returns the current credential, refreshing it when absent,
// expired, or forceRefresh is set. A refresh failure degrades to nil (no
// authenticated session) and is reported to the logger, never returned.
func (p *TokenProvider) Credential(ctx context.Context, forceRefresh bool) *Credential {
	p.mu.Lock()
	cached := p.credential
	p.mu.Unlock()

	if cached != nil && !cached.Expired() && !forceRefresh {
		return cached
	}

	v, err, _ := p.flight.Do(credentialFlightKey, func() (interface{}, error) {
		if !forceRefresh {
			if cred, err := p.cookieCredential(); err == nil {
				return cred, nil
			}
		}
		return p.refreshCredential(ctx)
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordTokenRefresh("credential", "failure")
		}
		if p.logger != nil {
			p.logger.Error("credential refresh failed", "error", err)
		}
		return nil
	}

	cred := v.(*Credential)
	p.mu.Lock()
	p.credential = cred
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordTokenRefresh("credential", "success")
	}
	return cred
}

// cookieCredential decodes the credential cookie without any network call.
func (p *TokenProvider) cookieCredential() (*Credential, error) {
	raw, ok := p.cookies.Read(p.cfg.CredentialCookieName)
	if !ok {
		return nil, fmt.Errorf("cookie %q not present", p.cfg.CredentialCookieName)
	}
	cred, err := decodeCredential(raw)
	if err != nil {
		return nil, err
	}
	if cred.Expired() {
		return nil, fmt.Errorf("credential expired at %s", cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}

// refreshCredential POSTs the refresh endpoint (which sets a fresh credential
// cookie) and decodes the result.
func (p *TokenProvider) refreshCredential(ctx context.Context) (*Credential, error) {
	refreshURL := p.cfg.resolveURL(p.cfg.RefreshEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("refresh endpoint returned %d", resp.StatusCode)
	}

	return p.cookieCredential()
}

// CSRFToken returns the cached anti-forgery token, issuing exactly one fetch
// when none is cached. The token is required for mutating requests, so a
// fetch failure propagates to every concurrent waiter.
func (p *TokenProvider) CSRFToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.csrfToken
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	v, err, _ := p.flight.Do(csrfFlightKey, func() (interface{}, error) {
		return p.fetchCSRFToken(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCSRFFetch, err)
	}

	token := v.(string)
	p.mu.Lock()
	p.csrfToken = token
	p.mu.Unlock()
	return token, nil
}

func (p *TokenProvider) fetchCSRFToken(ctx context.Context) (string, error) {
	tokenURL := p.cfg.resolveURL(p.cfg.CSRFTokenAPIPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token payload: %w", err)
	}
	if payload.CSRFToken == "" {
		return "", fmt.Errorf("token payload missing csrfToken")
	}
	return payload.CSRFToken, nil
}

// decodeCredential reads the claims out of a signed token without verifying
// the signature.
func decodeCredential(raw string) (*Credential, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}

	cred := &Credential{Raw: raw}
	if exp, ok := claims["exp"].(float64); ok {
		cred.ExpiresAt = time.Unix(int64(exp), 0)
	}
	cred.UserID = claimString(claims, "user_id", "sub")
	cred.Username = claimString(claims, "preferred_username", "username")
	cred.Email = claimString(claims, "email")
	cred.Name = claimString(claims, "name")
	if admin, ok := claims["administrator"].(bool); ok {
		cred.Administrator = admin
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				cred.Roles = append(cred.Roles, s)
			}
		}
	}
	return cred, nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
