package platform

import (
	"bytes"
	"io"
	"net/http"
)

// MockResponse is a canned response served in mock mode.
type MockResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// MockRoundTripper substitutes canned responses for requests carrying a mock
// API id (see WithMockAPIID). Requests without an id pass through untouched;
// requests whose id has no table entry also pass through, and the miss is
// logged as a diagnostic, not treated as an error.
type MockRoundTripper struct {
	responses map[string]MockResponse
	next      http.RoundTripper
	logger    Logger
}

// NewMockRoundTripper builds the development transport. next defaults to
// http.DefaultTransport.
func NewMockRoundTripper(responses map[string]MockResponse, next http.RoundTripper, logger Logger) *MockRoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &MockRoundTripper{
		responses: responses,
		next:      next,
		logger:    logger,
	}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	id := requestFlags(req).MockAPIID
	if id == "" {
		return m.next.RoundTrip(req)
	}

	mock, ok := m.responses[id]
	if !ok {
		if m.logger != nil {
			m.logger.Info("request not found in mock table, passing through",
				"mockApiId", id, "method", req.Method, "url", req.URL.String())
		}
		return m.next.RoundTrip(req)
	}

	header := mock.Header
	if header == nil {
		header = http.Header{}
	}
	status := mock.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(mock.Body)),
		ContentLength: int64(len(mock.Body)),
		Request:       req,
	}, nil
}
