package client

import (
	"net/http"
)

// headerTransport adds default headers to every outgoing hop. Headers the
// request already carries win.
type headerTransport struct {
	next    http.RoundTripper
	headers http.Header
}

func newHeaderTransport(next http.RoundTripper, userAgent string, extra map[string]string) *headerTransport {
	if next == nil {
		next = http.DefaultTransport
	}

	h := make(http.Header, len(extra)+1)
	for k, v := range extra {
		h.Set(k, v)
	}
	h.Set("User-Agent", userAgent)

	return &headerTransport{next: next, headers: h}
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var clone *http.Request
	for k, vv := range t.headers {
		if _, ok := req.Header[k]; ok {
			continue
		}
		if clone == nil {
			// RoundTrippers must not modify the caller's request.
			clone = req.Clone(req.Context())
		}
		clone.Header[k] = append([]string(nil), vv...)
	}

	if clone == nil {
		return t.next.RoundTrip(req)
	}
	return t.next.RoundTrip(clone)
}
