package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Navigator abstracts the browser-style navigation the session drives for
// login and logout, plus the referrer inspection used for loop detection.
type Navigator interface {
	Navigate(url string)
	Referrer() string
}

// LogNavigator is the default Navigator for non-interactive environments:
// it records the requested navigation and reports no referrer.
type LogNavigator struct {
	Logger Logger
}

func (n *LogNavigator) Navigate(target string) {
	if n.Logger != nil {
		n.Logger.Info("navigation requested", "url", target)
	}
}

func (n *LogNavigator) Referrer() string { return "" }

// SessionState tags the outcome of EnsureAuthenticatedUser.
type SessionState int

const (
	// StateAuthenticated means a valid session exists; Outcome.User is set.
	StateAuthenticated SessionState = iota
	// StateRedirecting means a navigation to the login page has been
	// initiated. Callers must treat this as already handled, not retry.
	StateRedirecting
	// StateFailed means authentication could not be established and no
	// navigation was triggered; Outcome.Reason explains why.
	StateFailed
)

// EnsureOutcome is the tagged result of EnsureAuthenticatedUser.
type EnsureOutcome struct {
	State  SessionState
	User   *User
	Reason error
}

// ClientOptions selects a client variant from the factory.
type ClientOptions struct {
	// UseCache requests the cache-backed variant. When cache initialization
	// failed the returned handle is the direct variant instead.
	UseCache bool
}

// AuthService coordinates the session: it owns the token provider, the
// current-user state, the client variants and the login/logout redirects.
// A process typically holds one instance (see Configure); tests construct
// their own.
type AuthService struct {
	cfg        Config
	logger     Logger
	metrics    *MetricsCollector
	navigator  Navigator
	cookies    CookieReader
	transport  http.RoundTripper
	cacheStore PersistentCache
	debug      bool

	mockResponses map[string]MockResponse
	mockUser      *User
	mockHydrated  *User

	httpBase   *http.Client
	tokens     *TokenProvider
	bus        *userChangeBus
	middleware *MiddlewareRegistry

	directAuth *Client
	directAnon *Client
	cachedAuth *Client
	cachedAnon *Client
	cacheReady chan struct{}

	mu          sync.RWMutex
	currentUser *User
}

// ServiceOption configures an AuthService.
type ServiceOption func(*AuthService)

// WithServiceLogger sets the logging sink for absorbed failures.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *AuthService) { s.logger = logger }
}

// WithNavigator sets the navigation collaborator.
func WithNavigator(nav Navigator) ServiceOption {
	return func(s *AuthService) { s.navigator = nav }
}

// WithServiceMetrics enables Prometheus metrics on the default registerer.
// The default registerer rejects duplicate registration, so use this on at
// most one service per process; additional instances (and tests) should pass
// WithServiceMetricsCollector with a collector built via
// NewMetricsCollectorWithRegistry.
func WithServiceMetrics() ServiceOption {
	return func(s *AuthService) { s.metrics = NewMetricsCollector() }
}

// WithServiceMetricsCollector sets a custom metrics collector.
func WithServiceMetricsCollector(mc *MetricsCollector) ServiceOption {
	return func(s *AuthService) { s.metrics = mc }
}

// WithCacheStore overrides the persistent response cache (default: redis
// when Config.RedisAddr is set, none otherwise).
func WithCacheStore(store PersistentCache) ServiceOption {
	return func(s *AuthService) { s.cacheStore = store }
}

// WithTransport overrides the underlying HTTP transport.
func WithTransport(rt http.RoundTripper) ServiceOption {
	return func(s *AuthService) { s.transport = rt }
}

// WithCookieReader overrides where the credential cookie is read from
// (default: the shared cookie jar, scoped to BaseURL).
func WithCookieReader(r CookieReader) ServiceOption {
	return func(s *AuthService) { s.cookies = r }
}

// WithServiceDebug enables per-request debug logging on every client variant.
func WithServiceDebug() ServiceOption {
	return func(s *AuthService) { s.debug = true }
}

// WithMockResponses installs the canned-response table used in mock mode.
func WithMockResponses(responses map[string]MockResponse) ServiceOption {
	return func(s *AuthService) { s.mockResponses = responses }
}

// WithMockUsers sets the identities served in mock mode in place of real
// credential decoding. hydrated may be nil, in which case hydration is a
// no-op beyond re-publishing the authenticated user.
func WithMockUsers(authenticated, hydrated *User) ServiceOption {
	return func(s *AuthService) {
		s.mockUser = authenticated
		s.mockHydrated = hydrated
	}
}

// NewAuthService validates the configuration and builds the service. The
// direct client variants are usable immediately; the cache-backed pair
// becomes available asynchronously and falls back to the direct pair if the
// cache store fails to initialize.
func NewAuthService(cfg Config, opts ...ServiceOption) (*AuthService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &AuthService{
		cfg:        cfg,
		bus:        newUserChangeBus(),
		middleware: NewMiddlewareRegistry(),
		cacheReady: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = NewSimpleLogger()
	}
	if s.navigator == nil {
		s.navigator = &LogNavigator{Logger: s.logger}
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "invalid BaseURL", Cause: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	transport := s.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if s.mockResponses != nil {
		transport = NewMockRoundTripper(s.mockResponses, transport, s.logger)
	}

	s.httpBase = &http.Client{
		Jar:       jar,
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
	}
	if s.cookies == nil {
		s.cookies = &jarCookieReader{jar: jar, base: baseURL}
	}

	s.tokens = NewTokenProvider(cfg, s.httpBase, s.cookies, s.logger, s.metrics)

	s.directAuth = New(s.clientOptions(
		CredentialMiddleware(s.tokens),
		CSRFMiddleware(s.tokens),
		NormalizeErrorsMiddleware(),
	)...)
	s.directAnon = New(s.clientOptions(
		CSRFMiddleware(s.tokens),
		NormalizeErrorsMiddleware(),
	)...)

	if s.cacheStore == nil && cfg.RedisAddr != "" {
		s.cacheStore = NewRedisCache(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, "")
	}

	if s.cacheStore == nil {
		s.cachedAuth = s.directAuth
		s.cachedAnon = s.directAnon
		close(s.cacheReady)
	} else {
		go s.initCache()
	}

	return s, nil
}

func (s *AuthService) clientOptions(chain ...Middleware) []Option {
	opts := []Option{
		WithHTTPClient(s.httpBase),
		WithTimeout(s.cfg.RequestTimeout),
		WithLogger(s.logger),
		WithMiddlewareRegistry(s.middleware),
		WithMiddleware(chain...),
		WithDeduplication(),
	}
	if s.metrics != nil {
		opts = append(opts, WithMetricsCollector(s.metrics))
	}
	if s.debug {
		opts = append(opts, WithDebug())
	}
	return opts
}

// initCache runs once at startup. Failure is absorbed: the cached handles
// alias the direct ones and the failure is logged exactly once.
func (s *AuthService) initCache() {
	defer close(s.cacheReady)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	if err := s.cacheStore.Init(ctx); err != nil {
		s.logger.Error("response cache initialization failed, using direct clients",
			"error", err)
		if s.metrics != nil {
			s.metrics.RecordCacheFallback()
		}
		s.cachedAuth = s.directAuth
		s.cachedAnon = s.directAnon
		return
	}

	s.cachedAuth = New(append(s.clientOptions(
		CredentialMiddleware(s.tokens),
		CSRFMiddleware(s.tokens),
		NormalizeErrorsMiddleware(),
	), WithCustomCache(s.cacheStore, s.cfg.CacheTTL))...)
	s.cachedAnon = New(append(s.clientOptions(
		CSRFMiddleware(s.tokens),
		NormalizeErrorsMiddleware(),
	), WithCustomCache(s.cacheStore, s.cfg.CacheTTL))...)
}

// AuthenticatedHTTPClient returns the client variant that attaches the
// session credential. With UseCache it blocks until cache initialization has
// settled and returns the cached variant, or the direct one if the cache
// fell back.
func (s *AuthService) AuthenticatedHTTPClient(opts ClientOptions) *Client {
	if opts.UseCache {
		<-s.cacheReady
		return s.cachedAuth
	}
	return s.directAuth
}

// HTTPClient returns the anonymous client variant (no credential attached).
func (s *AuthService) HTTPClient(opts ClientOptions) *Client {
	if opts.UseCache {
		<-s.cacheReady
		return s.cachedAnon
	}
	return s.directAnon
}

// AddMiddleware registers request-wide transforms applied uniformly to all
// client variants, including handles already handed out and cached handles
// aliased to direct ones.
func (s *AuthService) AddMiddleware(middleware ...Middleware) {
	s.middleware.Use(middleware...)
}

// Tokens exposes the credential provider, mainly for advanced callers that
// need the raw credential.
func (s *AuthService) Tokens() *TokenProvider {
	return s.tokens
}

// OnAuthenticatedUserChanged subscribes to user changes; the returned
// function unsubscribes. The handler receives nil when the session becomes
// anonymous.
func (s *AuthService) OnAuthenticatedUserChanged(handler UserChangeHandler) func() {
	return s.bus.subscribe(handler)
}

// AuthenticatedUser returns the current user, or nil when anonymous.
func (s *AuthService) AuthenticatedUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser
}

// SetAuthenticatedUser installs the current user (nil for anonymous) and
// publishes the change.
func (s *AuthService) SetAuthenticatedUser(user *User) {
	s.mu.Lock()
	s.currentUser = user
	s.mu.Unlock()
	s.bus.publish(user)
}

// FetchAuthenticatedUser obtains the current credential (refreshing when
// absent, expired, or forceRefresh is set) and updates the session: a valid
// credential yields a freshly built User, anything else resets to anonymous.
// Idempotent and safe to call repeatedly.
func (s *AuthService) FetchAuthenticatedUser(ctx context.Context, forceRefresh bool) *User {
	if s.cfg.Mode == AuthModeMock {
		user := s.mockUser.clone()
		s.SetAuthenticatedUser(user)
		return user
	}

	cred := s.tokens.Credential(ctx, forceRefresh)
	if cred == nil || cred.Expired() {
		s.SetAuthenticatedUser(nil)
		return nil
	}

	user := cred.user()
	s.SetAuthenticatedUser(user)
	return user
}

// EnsureAuthenticatedUser fetches the user and, when the session is still
// anonymous, either reports a redirect loop (never navigating again) or
// triggers exactly one navigation to the login page with the given
// post-login destination (BaseURL when empty).
func (s *AuthService) EnsureAuthenticatedUser(ctx context.Context, redirectURL string) EnsureOutcome {
	if redirectURL == "" {
		redirectURL = s.cfg.BaseURL
	}

	if user := s.FetchAuthenticatedUser(ctx, false); user != nil {
		return EnsureOutcome{State: StateAuthenticated, User: user}
	}

	if referrer := s.navigator.Referrer(); s.isLoginURL(referrer) {
		err := fmt.Errorf("%w: referrer %q is the login page", ErrRedirectLoop, referrer)
		s.logger.Error("redirect loop detected, not redirecting", "referrer", referrer)
		return EnsureOutcome{State: StateFailed, Reason: err}
	}

	s.navigator.Navigate(s.LoginRedirectURL(redirectURL))
	return EnsureOutcome{State: StateRedirecting}
}

// HydrateAuthenticatedUser enriches the current user with profile fields
// from the account lookup. A no-op when anonymous: no network call, state
// unchanged.
func (s *AuthService) HydrateAuthenticatedUser(ctx context.Context) error {
	current := s.AuthenticatedUser()
	if current == nil {
		return nil
	}

	if s.cfg.Mode == AuthModeMock {
		if s.mockHydrated != nil {
			s.SetAuthenticatedUser(s.mockHydrated.clone())
		}
		return nil
	}

	accountURL := s.cfg.resolveURL(strings.TrimSuffix(s.cfg.AccountAPIPath, "/")) +
		"/" + url.PathEscape(current.Username)

	resp, err := s.AuthenticatedHTTPClient(ClientOptions{}).Get(ctx, accountURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var profile map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return fmt.Errorf("decode account payload: %w", err)
	}

	s.SetAuthenticatedUser(current.mergeProfile(profile))
	return nil
}

// LoginRedirectURL builds the login page URL carrying the post-login
// destination in the next parameter.
func (s *AuthService) LoginRedirectURL(next string) string {
	if next == "" {
		next = s.cfg.BaseURL
	}
	return urlWithParam(s.cfg.LoginURL, "next", next)
}

// LogoutRedirectURL builds the logout page URL carrying the post-logout
// destination.
func (s *AuthService) LogoutRedirectURL(redirect string) string {
	if redirect == "" {
		redirect = s.cfg.BaseURL
	}
	return urlWithParam(s.cfg.LogoutURL, "redirect_url", redirect)
}

// RedirectToLogin navigates to the login page.
func (s *AuthService) RedirectToLogin(next string) {
	s.navigator.Navigate(s.LoginRedirectURL(next))
}

// RedirectToLogout navigates to the logout page.
func (s *AuthService) RedirectToLogout(redirect string) {
	s.navigator.Navigate(s.LogoutRedirectURL(redirect))
}

// isLoginURL reports whether target points at the configured login page,
// ignoring query and fragment.
func (s *AuthService) isLoginURL(target string) bool {
	if target == "" {
		return false
	}
	ref, err := url.Parse(target)
	if err != nil {
		return false
	}
	login, err := url.Parse(s.cfg.LoginURL)
	if err != nil {
		return false
	}
	return ref.Host == login.Host &&
		strings.TrimSuffix(ref.Path, "/") == strings.TrimSuffix(login.Path, "/")
}

func urlWithParam(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
