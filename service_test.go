package platform

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionBackend extends the token endpoints with the account lookup used by
// hydration and a generic resource endpoint for client-variant tests.
type sessionBackend struct {
	server       *httptest.Server
	refreshCalls atomic.Int32
	accountCalls atomic.Int32
	pingCalls    atomic.Int32

	refreshFail atomic.Bool
}

func newSessionBackend(t *testing.T) *sessionBackend {
	t.Helper()
	b := &sessionBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login_refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.refreshFail.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:  "session-jwt",
			Value: testCredentialToken(t, "ada", time.Now().Add(time.Hour)),
			Path:  "/",
		})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/csrf/api/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"csrfToken":"csrf-abc"}`))
	})
	mux.HandleFunc("/api/user/v1/accounts/", func(w http.ResponseWriter, r *http.Request) {
		b.accountCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"ada","full_name":"Ada Lovelace","country":"GB"}`))
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		b.pingCalls.Add(1)
		_, _ = w.Write([]byte("pong"))
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func newTestService(t *testing.T, b *sessionBackend, opts ...ServiceOption) *AuthService {
	t.Helper()
	svc, err := NewAuthService(testConfig(t, b.server.URL), opts...)
	require.NoError(t, err)
	return svc
}

// stubPersistentCache is an in-memory store whose initialization outcome is
// scripted.
type stubPersistentCache struct {
	*InMemoryCache
	initErr error
}

func (c *stubPersistentCache) Init(ctx context.Context) error { return c.initErr }

func TestEnsureAuthenticatedUserWithValidSession(t *testing.T) {
	backend := newSessionBackend(t)
	nav := &fakeNavigator{}
	svc := newTestService(t, backend, WithNavigator(nav))

	outcome := svc.EnsureAuthenticatedUser(context.Background(), "")

	assert.Equal(t, StateAuthenticated, outcome.State)
	require.NotNil(t, outcome.User)
	assert.Equal(t, "ada", outcome.User.Username)
	assert.Empty(t, nav.visited(), "no navigation expected for an authenticated session")
}

func TestEnsureAuthenticatedUserRedirectsAnonymousToLogin(t *testing.T) {
	backend := newSessionBackend(t)
	backend.refreshFail.Store(true)
	nav := &fakeNavigator{}
	svc := newTestService(t, backend, WithNavigator(nav), WithServiceLogger(&recordingLogger{}))

	outcome := svc.EnsureAuthenticatedUser(context.Background(), "https://app.example.com/course/cs101")

	assert.Equal(t, StateRedirecting, outcome.State)
	assert.Nil(t, outcome.User)
	visited := nav.visited()
	require.Len(t, visited, 1, "exactly one navigation expected")
	assert.Equal(t, svc.LoginRedirectURL("https://app.example.com/course/cs101"), visited[0])
	assert.Contains(t, visited[0], "next="+url.QueryEscape("https://app.example.com/course/cs101"))
}

func TestEnsureAuthenticatedUserDetectsRedirectLoop(t *testing.T) {
	backend := newSessionBackend(t)
	backend.refreshFail.Store(true)
	nav := &fakeNavigator{referrer: "https://accounts.example.com/login?next=somewhere"}
	logger := &recordingLogger{}
	svc := newTestService(t, backend, WithNavigator(nav), WithServiceLogger(logger))

	outcome := svc.EnsureAuthenticatedUser(context.Background(), "")

	assert.Equal(t, StateFailed, outcome.State)
	require.Error(t, outcome.Reason)
	assert.True(t, errors.Is(outcome.Reason, ErrRedirectLoop))
	assert.Empty(t, nav.visited(), "loop detection must not navigate again")
	assert.Equal(t, 1, logger.count("error", "redirect loop"))
}

func TestEnsureAuthenticatedUserDefaultsRedirectToBaseURL(t *testing.T) {
	backend := newSessionBackend(t)
	backend.refreshFail.Store(true)
	nav := &fakeNavigator{}
	svc := newTestService(t, backend, WithNavigator(nav), WithServiceLogger(&recordingLogger{}))

	svc.EnsureAuthenticatedUser(context.Background(), "")

	visited := nav.visited()
	require.Len(t, visited, 1)
	assert.Contains(t, visited[0], "next="+url.QueryEscape(backend.server.URL))
}

func TestFetchAuthenticatedUserFailureResetsToAnonymous(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend, WithServiceLogger(&recordingLogger{}))

	require.NotNil(t, svc.FetchAuthenticatedUser(context.Background(), false))
	require.NotNil(t, svc.AuthenticatedUser())

	backend.refreshFail.Store(true)
	user := svc.FetchAuthenticatedUser(context.Background(), true)

	assert.Nil(t, user)
	assert.Nil(t, svc.AuthenticatedUser(), "failed refresh must reset the session to anonymous")
}

func TestHydrateAuthenticatedUserIsNoopWhenAnonymous(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend)

	err := svc.HydrateAuthenticatedUser(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, svc.AuthenticatedUser())
	assert.EqualValues(t, 0, backend.accountCalls.Load(), "anonymous hydrate must not call the account API")
}

func TestHydrateAuthenticatedUserMergesProfile(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend)

	before := svc.FetchAuthenticatedUser(context.Background(), false)
	require.NotNil(t, before)

	err := svc.HydrateAuthenticatedUser(context.Background())
	require.NoError(t, err)

	hydrated := svc.AuthenticatedUser()
	require.NotNil(t, hydrated)
	assert.NotSame(t, before, hydrated, "hydration installs a fresh copy")
	assert.Equal(t, "ada", hydrated.Username)
	assert.Equal(t, "Ada Lovelace", hydrated.Extra["fullName"])
	assert.Equal(t, "GB", hydrated.Extra["country"])
	assert.Nil(t, before.Extra, "the instance handed out before hydration stays untouched")
	assert.EqualValues(t, 1, backend.accountCalls.Load())
}

func TestOnAuthenticatedUserChanged(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend)

	var seen []*User
	unsubscribe := svc.OnAuthenticatedUserChanged(func(user *User) {
		seen = append(seen, user)
	})

	user := svc.FetchAuthenticatedUser(context.Background(), false)
	require.NotNil(t, user)
	svc.SetAuthenticatedUser(nil)

	require.Len(t, seen, 2)
	assert.Equal(t, "ada", seen[0].Username)
	assert.Nil(t, seen[1], "handlers observe the transition to anonymous")

	unsubscribe()
	svc.SetAuthenticatedUser(user)
	assert.Len(t, seen, 2, "no deliveries after unsubscribe")
}

func TestLoginAndLogoutRedirectURLs(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend)

	login := svc.LoginRedirectURL("https://app.example.com/dash?tab=1")
	assert.Contains(t, login, "https://accounts.example.com/login")
	assert.Contains(t, login, "next="+url.QueryEscape("https://app.example.com/dash?tab=1"))

	logout := svc.LogoutRedirectURL("")
	assert.Contains(t, logout, "https://accounts.example.com/logout")
	assert.Contains(t, logout, "redirect_url="+url.QueryEscape(backend.server.URL))
}

func TestRedirectToLoginNavigates(t *testing.T) {
	backend := newSessionBackend(t)
	nav := &fakeNavigator{}
	svc := newTestService(t, backend, WithNavigator(nav))

	svc.RedirectToLogin("https://app.example.com/next")
	svc.RedirectToLogout("")

	visited := nav.visited()
	require.Len(t, visited, 2)
	assert.Equal(t, svc.LoginRedirectURL("https://app.example.com/next"), visited[0])
	assert.Equal(t, svc.LogoutRedirectURL(""), visited[1])
}

func TestMockModeServesConfiguredUsers(t *testing.T) {
	backend := newSessionBackend(t)
	cfg := testConfig(t, backend.server.URL)
	cfg.Mode = AuthModeMock
	svc, err := NewAuthService(cfg,
		WithMockUsers(
			&User{UserID: "42", Username: "mock-ada", Roles: []string{"staff"}},
			&User{UserID: "42", Username: "mock-ada", Name: "Mock Ada", Roles: []string{"staff"}},
		),
	)
	require.NoError(t, err)

	user := svc.FetchAuthenticatedUser(context.Background(), false)
	require.NotNil(t, user)
	assert.Equal(t, "mock-ada", user.Username)
	assert.EqualValues(t, 0, backend.refreshCalls.Load(), "mock mode must not touch the network")

	require.NoError(t, svc.HydrateAuthenticatedUser(context.Background()))
	hydrated := svc.AuthenticatedUser()
	require.NotNil(t, hydrated)
	assert.Equal(t, "Mock Ada", hydrated.Name)
	assert.EqualValues(t, 0, backend.accountCalls.Load())
}

func TestMockResponsesServedByClientVariants(t *testing.T) {
	backend := newSessionBackend(t)
	svc := newTestService(t, backend,
		WithMockResponses(map[string]MockResponse{
			"courses.list": {StatusCode: http.StatusOK, Body: []byte(`[{"id":"cs101"}]`)},
		}),
	)

	ctx := WithMockAPIID(WithPublicRequest(context.Background()), "courses.list")
	resp, err := svc.HTTPClient(ClientOptions{}).Get(ctx, backend.server.URL+"/courses")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"cs101"}]`, string(body))
	assert.EqualValues(t, 0, backend.pingCalls.Load())
}

func TestClientFactoryFallsBackWhenCacheInitFails(t *testing.T) {
	backend := newSessionBackend(t)
	logger := &recordingLogger{}
	store := &stubPersistentCache{
		InMemoryCache: NewInMemoryCache(),
		initErr:       errors.New("store unavailable"),
	}
	svc := newTestService(t, backend, WithServiceLogger(logger), WithCacheStore(store))

	cached := svc.AuthenticatedHTTPClient(ClientOptions{UseCache: true})
	direct := svc.AuthenticatedHTTPClient(ClientOptions{})

	assert.Same(t, direct, cached, "failed cache init aliases the cached handle to the direct one")
	assert.Same(t, svc.HTTPClient(ClientOptions{}), svc.HTTPClient(ClientOptions{UseCache: true}))
	assert.Equal(t, 1, logger.count("error", "cache initialization failed"),
		"initialization failure is logged exactly once")

	// The aliased handle still works end to end.
	resp, err := cached.Get(context.Background(), backend.server.URL+"/ping")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.EqualValues(t, 1, backend.pingCalls.Load())
}

func TestClientFactoryUsesCacheWhenInitSucceeds(t *testing.T) {
	backend := newSessionBackend(t)
	store := &stubPersistentCache{InMemoryCache: NewInMemoryCache()}
	svc := newTestService(t, backend, WithCacheStore(store))

	cached := svc.HTTPClient(ClientOptions{UseCache: true})
	assert.NotSame(t, svc.HTTPClient(ClientOptions{}), cached)

	for i := 0; i < 2; i++ {
		resp, err := cached.Get(WithPublicRequest(context.Background()), backend.server.URL+"/ping")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	assert.EqualValues(t, 1, backend.pingCalls.Load(), "second request must be served from the cache")
}

func TestAddMiddlewareAppliesToAllVariantsIncludingLateRegistration(t *testing.T) {
	backend := newSessionBackend(t)
	store := &stubPersistentCache{
		InMemoryCache: NewInMemoryCache(),
		initErr:       errors.New("store unavailable"),
	}
	svc := newTestService(t, backend, WithServiceLogger(&recordingLogger{}), WithCacheStore(store))

	// Handles handed out before registration.
	direct := svc.HTTPClient(ClientOptions{})
	cached := svc.HTTPClient(ClientOptions{UseCache: true})

	var applied atomic.Int32
	svc.AddMiddleware(func(req *http.Request, next RoundTripper) (*http.Response, error) {
		applied.Add(1)
		return next.RoundTrip(req)
	})

	for _, client := range []*Client{direct, cached, svc.AuthenticatedHTTPClient(ClientOptions{})} {
		resp, err := client.Get(WithPublicRequest(context.Background()), backend.server.URL+"/ping")
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	assert.EqualValues(t, 3, applied.Load(), "late-registered middleware applies to every variant")
}

func TestNewAuthServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewAuthService(Config{})

	require.Error(t, err)
	var clientErr *ClientError
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, ErrorTypeValidation, clientErr.Type)
}
