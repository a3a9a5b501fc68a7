package platform

import (
	"net/http"
	"testing"
	"time"
)

func TestParseCacheControl(t *testing.T) {
	tests := []struct {
		header  string
		noStore bool
		noCache bool
		private bool
		maxAge  time.Duration
	}{
		{header: ""},
		{header: "no-store", noStore: true},
		{header: "no-cache", noCache: true},
		{header: "private, no-cache", private: true, noCache: true},
		{header: "max-age=60", maxAge: time.Minute},
		{header: `max-age="120", private`, maxAge: 2 * time.Minute, private: true},
		{header: "max-age=bogus"},
	}

	for _, tt := range tests {
		d := parseCacheControl(tt.header)
		if d.NoStore != tt.noStore {
			t.Errorf("header %q: NoStore = %v, want %v", tt.header, d.NoStore, tt.noStore)
		}
		if d.NoCache != tt.noCache {
			t.Errorf("header %q: NoCache = %v, want %v", tt.header, d.NoCache, tt.noCache)
		}
		if d.Private != tt.private {
			t.Errorf("header %q: Private = %v, want %v", tt.header, d.Private, tt.private)
		}
		if tt.maxAge > 0 {
			if d.MaxAge == nil || *d.MaxAge != tt.maxAge {
				t.Errorf("header %q: MaxAge = %v, want %v", tt.header, d.MaxAge, tt.maxAge)
			}
		} else if d.MaxAge != nil {
			t.Errorf("header %q: MaxAge = %v, want nil", tt.header, *d.MaxAge)
		}
	}
}

func TestShouldStoreResponse(t *testing.T) {
	storable := &http.Response{Header: http.Header{}}
	if !shouldStoreResponse(storable) {
		t.Error("response without Cache-Control should be storable")
	}

	noStore := &http.Response{Header: http.Header{"Cache-Control": []string{"no-store"}}}
	if shouldStoreResponse(noStore) {
		t.Error("no-store response must not be stored")
	}

	noCache := &http.Response{Header: http.Header{"Cache-Control": []string{"no-cache"}}}
	if shouldStoreResponse(noCache) {
		t.Error("no-cache response must not be stored")
	}
}

func TestCacheTTLForResponse(t *testing.T) {
	defaultTTL := 5 * time.Minute

	plain := &http.Response{Header: http.Header{}}
	if ttl := cacheTTLForResponse(plain, defaultTTL); ttl != defaultTTL {
		t.Errorf("expected default TTL %v, got %v", defaultTTL, ttl)
	}

	withMaxAge := &http.Response{Header: http.Header{"Cache-Control": []string{"max-age=30"}}}
	if ttl := cacheTTLForResponse(withMaxAge, defaultTTL); ttl != 30*time.Second {
		t.Errorf("expected max-age TTL 30s, got %v", ttl)
	}
}
