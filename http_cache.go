package platform

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents the Cache-Control directives the response cache
// honors.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	Private bool
	MaxAge  *time.Duration
}

// parseCacheControl parses a Cache-Control header into structured directives.
func parseCacheControl(header string) *CacheDirectives {
	directives := &CacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.Trim(strings.TrimSpace(kv[1]), "\"")
			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		case "private":
			directives.Private = true
		}
	}

	return directives
}

// shouldStoreResponse reports whether the response may enter the cache.
func shouldStoreResponse(resp *http.Response) bool {
	directives := parseCacheControl(resp.Header.Get("Cache-Control"))
	return !directives.NoStore && !directives.NoCache
}

// cacheTTLForResponse derives the entry lifetime: Cache-Control max-age when
// present, the configured default otherwise.
func cacheTTLForResponse(resp *http.Response, defaultTTL time.Duration) time.Duration {
	directives := parseCacheControl(resp.Header.Get("Cache-Control"))
	if directives.MaxAge != nil && *directives.MaxAge > 0 {
		return *directives.MaxAge
	}
	return defaultTTL
}
