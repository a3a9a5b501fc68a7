package platform

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants used in ClientError.Type.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeServer     = "Server"
	ErrorTypeClient     = "Client"
	ErrorTypeCSRF       = "CSRF"
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrRedirectLoop is returned when EnsureAuthenticatedUser would bounce
	// the user back to the login page it just came from.
	ErrRedirectLoop = errors.New("platform: login redirect loop detected")

	// ErrCSRFFetch is returned when the anti-forgery token cannot be fetched.
	ErrCSRFFetch = errors.New("platform: anti-forgery token fetch failed")

	// ErrCacheInit is recorded when the persistent response cache fails to
	// initialize and the cached client variants fall back to the direct ones.
	ErrCacheInit = errors.New("platform: response cache initialization failed")

	// ErrNotConfigured is raised by the package-level accessors before
	// Configure has been called.
	ErrNotConfigured = errors.New("platform: Configure has not been called")
)

// ClientError is the normalized error produced by the request pipeline for
// transport failures and non-2xx responses. The original failure, if any, is
// preserved in Cause and reachable through errors.Unwrap.
type ClientError struct {
	Type         string
	Message      string
	Cause        error
	RequestID    string
	Method       string
	URL          string
	StatusCode   int
	ResponseBody string
	Timestamp    time.Time
	Duration     time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsUnauthorized reports whether err is a normalized 401/403 response,
// i.e. the backend rejected the request for lack of a valid session.
func IsUnauthorized(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode == 401 || clientErr.StatusCode == 403
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.ResponseBody != "" {
		info += fmt.Sprintf("Response Body: %s\n", e.ResponseBody)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
