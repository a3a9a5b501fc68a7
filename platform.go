package platform

import (
	"context"
	"sync"
)

// The package-level API mirrors the AuthService methods for applications
// that want one process-wide instance. Configure must be called once at
// startup; there is no implicit re-initialization. Tests should construct
// AuthService values directly instead of going through this surface.

var (
	defaultMu      sync.RWMutex
	defaultService *AuthService
)

// Configure builds the process-wide AuthService. Calling it again replaces
// the previous instance.
func Configure(cfg Config, opts ...ServiceOption) error {
	svc, err := NewAuthService(cfg, opts...)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultService = svc
	defaultMu.Unlock()
	return nil
}

// GetAuthService returns the configured service. It panics when Configure
// has not been called, since every other package-level call would be a
// silent no-op otherwise.
func GetAuthService() *AuthService {
	defaultMu.RLock()
	svc := defaultService
	defaultMu.RUnlock()
	if svc == nil {
		panic(ErrNotConfigured)
	}
	return svc
}

// GetAuthenticatedHTTPClient returns the credential-attaching client variant.
func GetAuthenticatedHTTPClient(opts ClientOptions) *Client {
	return GetAuthService().AuthenticatedHTTPClient(opts)
}

// GetHTTPClient returns the anonymous client variant.
func GetHTTPClient(opts ClientOptions) *Client {
	return GetAuthService().HTTPClient(opts)
}

// GetAuthenticatedUser returns the current user, or nil when anonymous.
func GetAuthenticatedUser() *User {
	return GetAuthService().AuthenticatedUser()
}

// SetAuthenticatedUser installs the current user and publishes the change.
func SetAuthenticatedUser(user *User) {
	GetAuthService().SetAuthenticatedUser(user)
}

// FetchAuthenticatedUser refreshes the session from the current credential.
func FetchAuthenticatedUser(ctx context.Context, forceRefresh bool) *User {
	return GetAuthService().FetchAuthenticatedUser(ctx, forceRefresh)
}

// EnsureAuthenticatedUser fetches the user and redirects to login when the
// session is still anonymous.
func EnsureAuthenticatedUser(ctx context.Context, redirectURL string) EnsureOutcome {
	return GetAuthService().EnsureAuthenticatedUser(ctx, redirectURL)
}

// HydrateAuthenticatedUser enriches the current user with profile fields.
func HydrateAuthenticatedUser(ctx context.Context) error {
	return GetAuthService().HydrateAuthenticatedUser(ctx)
}

// GetLoginRedirectURL builds the login URL with the post-login destination.
func GetLoginRedirectURL(next string) string {
	return GetAuthService().LoginRedirectURL(next)
}

// RedirectToLogin navigates to the login page.
func RedirectToLogin(next string) {
	GetAuthService().RedirectToLogin(next)
}

// GetLogoutRedirectURL builds the logout URL with the post-logout destination.
func GetLogoutRedirectURL(redirect string) string {
	return GetAuthService().LogoutRedirectURL(redirect)
}

// RedirectToLogout navigates to the logout page.
func RedirectToLogout(redirect string) {
	GetAuthService().RedirectToLogout(redirect)
}

// OnAuthenticatedUserChanged subscribes to user changes; the returned
// function unsubscribes.
func OnAuthenticatedUserChanged(handler UserChangeHandler) func() {
	return GetAuthService().OnAuthenticatedUserChanged(handler)
}
