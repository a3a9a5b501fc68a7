package platform

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
)

// DeduplicationEntry represents an in-flight request shared between callers.
// The outcome is kept as a buffered snapshot so every waiter can be handed a
// response with its own body reader; handing out the owner's *http.Response
// directly would make all callers share one single-use stream.
type DeduplicationEntry struct {
	mu       sync.Mutex
	snapshot *CacheEntry
	err      error
	done     chan struct{}
}

// DeduplicationTracker coalesces concurrent identical requests: the first
// caller for a key owns the request, later callers wait for its outcome.
// The in-flight marker is cleared as soon as the owner settles, success or
// failure.
type DeduplicationTracker struct {
	mu      sync.Mutex
	entries map[string]*DeduplicationEntry
}

// NewDeduplicationTracker returns an in-memory de-duplication tracker.
func NewDeduplicationTracker() *DeduplicationTracker {
	return &DeduplicationTracker{
		entries: make(map[string]*DeduplicationEntry),
	}
}

// GetOrCreateEntry returns an existing entry (owner=false) or creates a new
// one (owner=true). The owner must call Complete exactly once.
func (dt *DeduplicationTracker) GetOrCreateEntry(key string) (*DeduplicationEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		return entry, false
	}

	entry := &DeduplicationEntry{done: make(chan struct{})}
	dt.entries[key] = entry
	return entry, true
}

// Complete settles an entry, releases its waiters and clears the marker. A
// successful response is buffered once; the owner's response keeps working
// (its body is replaced with a reader over the buffer) and each waiter gets
// an independent copy.
func (dt *DeduplicationTracker) Complete(key string, resp *http.Response, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	delete(dt.entries, key)
	dt.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	if err != nil {
		entry.err = err
	} else if resp != nil {
		entry.snapshot = createCacheEntry(resp)
		if entry.snapshot == nil {
			entry.err = fmt.Errorf("buffering shared response body failed")
		}
	}
	entry.mu.Unlock()
	close(entry.done)
}

// Wait blocks until the owning request settles or the context is done. Each
// waiter receives a response with its own body reader.
func (entry *DeduplicationEntry) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		snapshot := entry.snapshot
		err := entry.err
		entry.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			return nil, nil
		}
		return createResponseFromCache(snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeduplicationKeyFunc builds a key for identifying identical in-flight requests.
type DeduplicationKeyFunc func(*http.Request) string

// DefaultDeduplicationKeyFunc builds a key from method + URL (+ body hash for mutating verbs).
func DefaultDeduplicationKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))

	if req.Body != nil && csrfProtectedMethods[req.Method] {
		bodyHash := sha256.New()
		if req.GetBody != nil {
			if body, err := req.GetBody(); err == nil {
				_, _ = io.Copy(bodyHash, body)
			}
		}
		h.Write(bodyHash.Sum(nil))
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// DeduplicationCondition decides whether a request is eligible for deduplication.
type DeduplicationCondition func(req *http.Request) bool

// DefaultDeduplicationCondition enables deduplication for safe idempotent methods.
func DefaultDeduplicationCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}
