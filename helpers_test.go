package platform

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Debug(msg string, _ ...interface{}) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...interface{})  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...interface{})  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...interface{}) { l.record("error", msg) }

func (l *recordingLogger) count(level, msgSubstring string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && strings.Contains(e.msg, msgSubstring) {
			n++
		}
	}
	return n
}

// fakeNavigator records navigations and serves a fixed referrer.
type fakeNavigator struct {
	mu          sync.Mutex
	referrer    string
	navigations []string
}

func (n *fakeNavigator) Navigate(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navigations = append(n.navigations, target)
}

func (n *fakeNavigator) Referrer() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.referrer
}

func (n *fakeNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.navigations...)
}

// testCredentialToken signs a token carrying the standard session claims.
// The signature is irrelevant (claims are read unverified) but the token must
// be structurally valid.
func testCredentialToken(t *testing.T, username string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id":            "1",
		"preferred_username": username,
		"email":              username + "@example.com",
		"name":               "Test " + username,
		"roles":              []string{"learner"},
		"administrator":      false,
		"exp":                expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return token
}

// testConfig returns a validated config pointing at the given backend.
func testConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	cfg := Config{
		BaseURL:   baseURL,
		LoginURL:  "https://accounts.example.com/login",
		LogoutURL: "https://accounts.example.com/logout",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

// newTestJar builds a cookie jar pre-populated for the given base URL.
func newTestJar(t *testing.T, baseURL string, cookies ...*http.Cookie) (http.CookieJar, *url.URL) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	if len(cookies) > 0 {
		jar.SetCookies(base, cookies)
	}
	return jar, base
}
