// Package testutil provides testing utilities for the Yahoo Finance client.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Cookies    []string // raw Set-Cookie lines
	Delay      time.Duration
}

// RecordedRequest captures what the mock upstream received.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Cookie  string
	Referer string
	Form    url.Values
}

// MockUpstream is a configurable stand-in for the upstream site.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockUpstream creates and starts a mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.Query(),
			Header:  r.Header.Clone(),
			Cookie:  r.Header.Get("Cookie"),
			Referer: r.Header.Get("Referer"),
		}
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			rec.Form, _ = url.ParseQuery(string(body))
		}

		mock.mu.Lock()
		mock.requests = append(mock.requests, rec)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockUpstream) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears the recorded requests.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		for _, c := range resp.Cookies {
			w.Header().Add("Set-Cookie", c)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetRedirect makes path answer with status and a Location header.
func (m *MockUpstream) SetRedirect(path string, status int, location string, cookies ...string) {
	m.SetResponse(path, MockResponse{
		StatusCode: status,
		Headers:    map[string]string{"Location": location},
		Cookies:    cookies,
	})
}

// SetConsentFlow installs the consent interstitial in front of finalPath:
// finalPath -> /consent -> /v2/collectConsent -> /copyConsent -> finalPath.
// The final path serves body once the consent cookie is present.
func (m *MockUpstream) SetConsentFlow(finalPath, gcrumb, sessionID, body string) {
	m.SetHandler(finalPath, func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("consent"); err != nil {
			w.Header().Set("Location", "/consent?gcrumb="+url.QueryEscape(gcrumb))
			w.WriteHeader(http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
	m.SetResponse("/consent", MockResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": "/v2/collectConsent?sessionId=" + url.QueryEscape(sessionID),
		},
		Cookies: []string{"session=" + sessionID + "; Path=/"},
	})
	m.SetResponse("/v2/collectConsent", MockResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": "/copyConsent?sessionId=" + url.QueryEscape(sessionID)},
	})
	m.SetResponse("/copyConsent", MockResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"Location": finalPath},
		Cookies:    []string{"consent=accepted; Path=/"},
	})
}

// SetCrumbEndpoints installs the two bootstrap endpoints: rootPath seeds a
// session cookie, crumbPath returns crumb as plain text once the cookie is
// present.
func (m *MockUpstream) SetCrumbEndpoints(rootPath, crumbPath, crumb string) {
	m.SetResponse(rootPath, MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<html></html>",
		Cookies:    []string{"A1=bootstrap; Path=/"},
	})
	m.SetHandler(crumbPath, func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("A1"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(crumb))
	})
}

// Requests returns a copy of the recorded requests.
func (m *MockUpstream) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// CountPath returns the number of requests received for path.
func (m *MockUpstream) CountPath(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// NewOKResponse creates a standard 200 OK response.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewErrorResponse creates an error response with the given status.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"finance":{"error":{"code":"` + http.StatusText(status) + `"}}}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
