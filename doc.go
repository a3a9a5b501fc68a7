// Package platform provides session-level authentication for HTTP clients
// talking to a first-party backend:
//
//   - A token provider that owns the bearer credential and the anti-forgery
//     token, refreshing each through a single coalesced in-flight call
//   - A middleware chain that attaches both tokens to outgoing requests and
//     normalizes error responses
//   - A session state machine (anonymous / authenticated / hydrated) with
//     login redirects and redirect-loop detection
//   - A client factory producing direct and cache-backed client variants,
//     falling back to the direct pair when the cache store fails to come up
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *AuthService / *Client instance
//   - Extensibility via user supplied middleware & pluggable cache / metrics
//
// Typical usage:
//
//	svc, err := platform.NewAuthService(cfg,
//	    platform.WithNavigator(nav),
//	    platform.WithServiceMetrics(),
//	)
//	outcome := svc.EnsureAuthenticatedUser(ctx, "")
//	if outcome.State == platform.StateAuthenticated {
//	    client := svc.AuthenticatedHTTPClient(platform.ClientOptions{UseCache: true})
//	    resp, err := client.Get(ctx, cfg.BaseURL+"/api/orders")
//	    ...
//	}
//
// Applications that prefer a process-wide instance can call Configure once at
// startup and use the package-level accessors (GetAuthService, GetHTTPClient,
// FetchAuthenticatedUser, ...). Tests should construct fresh AuthService
// values instead.
package platform
