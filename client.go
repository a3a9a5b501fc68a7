package platform

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client executes HTTP requests through an ordered middleware chain, with
// optional response caching, in-flight de-duplication and metrics layered
// around the standard net/http Client. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	timeout        time.Duration
	middleware     []Middleware
	registry       *MiddlewareRegistry
	cache          Cache
	cacheTTL       time.Duration
	cacheKeyFunc   func(*http.Request) string
	cacheCondition CacheCondition
	metrics        *MetricsCollector
	debug          *DebugConfig
	logger         Logger
	deduplication  *DeduplicationTracker
	dedupKeyFunc   DeduplicationKeyFunc
	dedupCondition DeduplicationCondition

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		timeout:        30 * time.Second,
		middleware:     []Middleware{},
		cache:          nil,
		cacheTTL:       5 * time.Minute,
		cacheKeyFunc:   DefaultCacheKeyFunc,
		cacheCondition: DefaultCacheCondition,
		metrics:        nil,
		debug:          DefaultDebugConfig(),
		logger:         nil,
		deduplication:  nil,
		dedupKeyFunc:   DefaultDeduplicationKeyFunc,
		dedupCondition: DefaultDeduplicationCondition,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Delete performs an HTTP DELETE with context.
func (c *Client) Delete(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes a prepared *http.Request through the middleware chain.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	dedupEnabled := c.deduplication != nil && c.dedupCondition(req)

	var dedupEntry *DeduplicationEntry
	var isDedupOwner bool
	if dedupEnabled {
		dedupKey := c.dedupKeyFunc(req)
		dedupEntry, isDedupOwner = c.deduplication.GetOrCreateEntry(dedupKey)

		if !isDedupOwner {
			resp, err := dedupEntry.Wait(req.Context())
			duration := time.Since(start)
			if c.metrics != nil {
				statusCode := 0
				if resp != nil {
					statusCode = resp.StatusCode
				}
				c.metrics.RecordRequestEnd(req.Method, endpoint)
				c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
				c.metrics.RecordDeduplicationHit(req.Method, endpoint)
			}

			if c.debug != nil && c.debug.Enabled && c.debug.LogDedup && c.logger != nil {
				c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", dedupKey)
			}

			return resp, err
		}
	}

	cacheEnabled := c.cache != nil && c.cacheCondition(req)

	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}

			duration := time.Since(start)
			if c.metrics != nil {
				c.metrics.RecordCacheHit(req.Method, endpoint)
				c.metrics.RecordRequestEnd(req.Method, endpoint)
				c.metrics.RecordRequest(req.Method, endpoint, entry.StatusCode, duration)
			}

			resp := createResponseFromCache(entry)
			if dedupEnabled && isDedupOwner {
				c.deduplication.Complete(c.dedupKeyFunc(req), resp, nil)
			}
			return resp, nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(req.Method, endpoint)
		}

		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	resp, err := c.executeMiddleware(req)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
	}

	duration := time.Since(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if err != nil {
		if clientErr, ok := err.(*ClientError); ok {
			statusCode = clientErr.StatusCode
			if clientErr.RequestID == "" {
				clientErr.RequestID = requestID
			}
			if c.metrics != nil {
				c.metrics.RecordError(clientErr.Type, req.Method, endpoint)
			}
		} else if c.metrics != nil {
			c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
	}

	if cacheEnabled && err == nil && resp.StatusCode < 400 && shouldStoreResponse(resp) {
		cacheKey := c.cacheKeyFunc(req)
		if entry := createCacheEntry(resp); entry != nil {
			ttl := cacheTTLForResponse(resp, c.cacheTTL)
			c.cache.Set(cacheKey, entry, ttl)

			if inMemoryCache, ok := c.cache.(*InMemoryCache); ok && c.metrics != nil {
				c.metrics.RecordCacheSize("default", inMemoryCache.size())
			}

			if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey, "ttl", ttl)
			}
		}
	}

	if dedupEnabled && isDedupOwner && dedupEntry != nil {
		c.deduplication.Complete(c.dedupKeyFunc(req), resp, err)
	}

	return resp, err
}

// executeMiddleware composes the client's own chain with the shared registry
// snapshot and runs the request through it. The first middleware in the
// client's list is outermost; registry middleware wraps inside it, closest to
// the transport after the built-in chain.
func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	chain := c.middleware
	if c.registry != nil {
		if shared := c.registry.snapshot(); len(shared) > 0 {
			combined := make([]Middleware, 0, len(c.middleware)+len(shared))
			combined = append(combined, c.middleware...)
			combined = append(combined, shared...)
			chain = combined
		}
	}

	if len(chain) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripper(RoundTripperFunc(c.httpClient.Do))

	for i := len(chain) - 1; i >= 0; i-- {
		middleware := chain[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
