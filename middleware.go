package platform

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Middleware represents a request/response transform applied around the
// transport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type contextKey string

const requestFlagsKey contextKey = "platform_request_flags"

// RequestFlags carries the out-of-band per-request switches consumed by the
// pipeline.
type RequestFlags struct {
	// IsPublic skips credential attachment entirely.
	IsPublic bool
	// IsCSRFExempt skips anti-forgery attachment even for protected methods.
	IsCSRFExempt bool
	// MockAPIID selects a canned response when the mock transport is active.
	MockAPIID string
}

func requestFlags(req *http.Request) RequestFlags {
	if flags, ok := req.Context().Value(requestFlagsKey).(RequestFlags); ok {
		return flags
	}
	return RequestFlags{}
}

// WithRequestFlags attaches the full flag set to a context.
func WithRequestFlags(ctx context.Context, flags RequestFlags) context.Context {
	return context.WithValue(ctx, requestFlagsKey, flags)
}

// WithPublicRequest marks the request as public: no credential is attached
// and no refresh is triggered on its behalf.
func WithPublicRequest(ctx context.Context) context.Context {
	flags := flagsFromContext(ctx)
	flags.IsPublic = true
	return WithRequestFlags(ctx, flags)
}

// WithCSRFExemptRequest marks the request as exempt from anti-forgery
// attachment.
func WithCSRFExemptRequest(ctx context.Context) context.Context {
	flags := flagsFromContext(ctx)
	flags.IsCSRFExempt = true
	return WithRequestFlags(ctx, flags)
}

// WithMockAPIID names the canned response the mock transport should serve.
func WithMockAPIID(ctx context.Context, id string) context.Context {
	flags := flagsFromContext(ctx)
	flags.MockAPIID = id
	return WithRequestFlags(ctx, flags)
}

func flagsFromContext(ctx context.Context) RequestFlags {
	if flags, ok := ctx.Value(requestFlagsKey).(RequestFlags); ok {
		return flags
	}
	return RequestFlags{}
}

// CSRFHeaderName is the header the anti-forgery token is sent in.
const CSRFHeaderName = "X-CSRF-Token"

var csrfProtectedMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// CSRFMiddleware attaches the anti-forgery token to state-mutating requests.
// Exempt requests and non-protected methods never trigger a token fetch.
func CSRFMiddleware(tokens *TokenProvider) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if !csrfProtectedMethods[req.Method] || requestFlags(req).IsCSRFExempt {
			return next.RoundTrip(req)
		}
		token, err := tokens.CSRFToken(req.Context())
		if err != nil {
			return nil, err
		}
		req.Header.Set(CSRFHeaderName, token)
		return next.RoundTrip(req)
	}
}

// AuthorizationHeaderName carries the bearer credential.
const AuthorizationHeaderName = "Authorization"

// CredentialMiddleware attaches the current credential, refreshing it first
// if needed. A request flagged public passes through untouched. When no
// credential can be obtained the request proceeds unauthenticated; the
// backend's rejection then flows through the error normalizer.
func CredentialMiddleware(tokens *TokenProvider) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if requestFlags(req).IsPublic {
			return next.RoundTrip(req)
		}
		if cred := tokens.Credential(req.Context(), false); cred != nil {
			req.Header.Set(AuthorizationHeaderName, "JWT "+cred.Raw)
		}
		return next.RoundTrip(req)
	}
}

const maxNormalizedBodySize = 4 * 1024

// NormalizeErrorsMiddleware converts transport failures and non-2xx
// responses into *ClientError annotated with status, URL and a body snippet.
// The original failure stays reachable through errors.Unwrap. No retry is
// performed.
func NormalizeErrorsMiddleware() Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(req)
		if err != nil {
			return nil, &ClientError{
				Type:      ErrorTypeNetwork,
				Message:   "network request failed",
				Cause:     err,
				Method:    req.Method,
				URL:       req.URL.String(),
				Timestamp: time.Now(),
				Duration:  time.Since(start),
			}
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxNormalizedBodySize))
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))

		errorType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errorType = ErrorTypeServer
		}
		return nil, &ClientError{
			Type:         errorType,
			Message:      http.StatusText(resp.StatusCode),
			Method:       req.Method,
			URL:          req.URL.String(),
			StatusCode:   resp.StatusCode,
			ResponseBody: string(body),
			Timestamp:    time.Now(),
			Duration:     time.Since(start),
		}
	}
}

// MiddlewareRegistry is the late-registration hook for request-wide
// transforms. Clients consult the registry at request time, so middleware
// registered after construction applies uniformly to every client variant,
// including cached handles aliased to direct ones.
type MiddlewareRegistry struct {
	mu    sync.RWMutex
	chain []Middleware
}

// NewMiddlewareRegistry returns an empty registry.
func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{}
}

// Use appends middleware to the shared chain.
func (r *MiddlewareRegistry) Use(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain = append(r.chain, middleware...)
}

func (r *MiddlewareRegistry) snapshot() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.chain) == 0 {
		return nil
	}
	return append([]Middleware(nil), r.chain...)
}
