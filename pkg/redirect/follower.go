// Package redirect executes one logical request to completion, resolving
// redirects, including the upstream's cookie-consent interstitial, into a
// single terminal response.
package redirect

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// MaxHops is the number of redirects followed before a chain fails.
const MaxHops = 10

// ErrTooManyRedirects is returned when a chain exceeds MaxHops.
var ErrTooManyRedirects = errors.New("too many redirects")

// Doer sends a single HTTP request without following redirects.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CookieStore carries cookies between hops.
type CookieStore interface {
	Attach(req *http.Request)
	Absorb(resp *http.Response, requestURL *url.URL)
}

// Follower wraps a Doer and follows redirects on its behalf.
type Follower struct {
	next    Doer
	cookies CookieStore
	logger  zerolog.Logger
}

// New creates a Follower. next must not follow redirects itself (see
// NoFollow).
func New(next Doer, cookies CookieStore, logger zerolog.Logger) *Follower {
	return &Follower{
		next:    next,
		cookies: cookies,
		logger:  logger.With().Str("component", "redirect").Logger(),
	}
}

// NoFollow returns a copy of c that hands 3xx responses back to the caller
// instead of following them, and that keeps no cookie jar of its own.
func NoFollow(c *http.Client) *http.Client {
	clone := *c
	clone.Jar = nil
	clone.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &clone
}

// chain is the per-send redirect state. It lives for one call to Do.
type chain struct {
	current *http.Request
	hops    int
	gcrumb  string
}

// stateKind tags the variants of the follower's state machine.
type stateKind int

const (
	stateSending stateKind = iota
	stateRedirected
	stateDone
)

type state struct {
	kind stateKind
	resp *http.Response
}

// Do sends req and follows redirects until a terminal response arrives. The
// returned response body is owned by the caller.
func (f *Follower) Do(req *http.Request) (*http.Response, error) {
	c := &chain{current: req}
	st := state{kind: stateSending}

	for {
		switch st.kind {
		case stateSending:
			resp, err := f.send(c.current)
			if err != nil {
				return nil, err
			}
			if isRedirect(resp.StatusCode) {
				st = state{kind: stateRedirected, resp: resp}
			} else {
				st = state{kind: stateDone, resp: resp}
			}

		case stateRedirected:
			next, err := f.redirect(c, st.resp)
			if err != nil {
				return nil, err
			}
			st = next

		case stateDone:
			return st.resp, nil
		}
	}
}

func (f *Follower) send(req *http.Request) (*http.Response, error) {
	if f.cookies != nil {
		f.cookies.Attach(req)
	}

	resp, err := f.next.Do(req)
	if err != nil {
		return nil, err
	}

	if f.cookies != nil {
		f.cookies.Absorb(resp, req.URL)
	}
	return resp, nil
}

// redirect consumes a 3xx response and decides the next state.
func (f *Follower) redirect(c *chain, resp *http.Response) (state, error) {
	c.hops++
	if c.hops > MaxHops {
		discard(resp)
		redirectExhaustedTotal.Inc()
		f.logger.Error().
			Str("url", c.current.URL.Redacted()).
			Int("max_hops", MaxHops).
			Msg("Redirect chain exhausted")
		return state{}, fmt.Errorf("%w: more than %d hops, last at %s",
			ErrTooManyRedirects, MaxHops, c.current.URL.Redacted())
	}

	target, ok := location(resp, c.current.URL)
	if !ok {
		// A 3xx without a usable Location (304 Not Modified, for one) is final.
		return state{kind: stateDone, resp: resp}, nil
	}

	r := classify(target)
	redirectsTotal.WithLabelValues(r.String()).Inc()

	f.logger.Debug().
		Int("hop", c.hops).
		Int("status", resp.StatusCode).
		Str("route", r.String()).
		Str("location", target.Redacted()).
		Msg("Following redirect")

	var (
		next *http.Request
		err  error
	)
	switch r {
	case routeConsent:
		c.gcrumb = target.Query().Get("gcrumb")
		next, err = follow(c.current, http.MethodGet, target, nil)

	case routeCollectConsent:
		form := consentForm(c.gcrumb, target.Query().Get("sessionId"))
		next, err = follow(c.current, http.MethodPost, target, strings.NewReader(form.Encode()))
		if next != nil {
			next.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	case routeCopyConsent:
		next, err = follow(c.current, http.MethodGet, target, nil)

	default:
		method := c.current.Method
		if method != http.MethodGet && method != http.MethodHead && method != "" {
			f.logger.Debug().
				Str("method", method).
				Str("location", target.Redacted()).
				Msg("Not following redirect for non-idempotent method")
			return state{kind: stateDone, resp: resp}, nil
		}
		if method == "" {
			method = http.MethodGet
		}
		next, err = follow(c.current, method, target, nil)
		if next != nil {
			next.Header.Set("Referer", referer(c.current.URL))
		}
	}
	if err != nil {
		discard(resp)
		return state{}, fmt.Errorf("build redirect request: %w", err)
	}

	discard(resp)
	c.current = next
	return state{kind: stateSending}, nil
}

// follow builds the next hop's request, carrying over the previous request's
// context and headers except those tied to the previous hop.
func follow(prev *http.Request, method string, target *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(prev.Context(), method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for k, vv := range prev.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Cookie", "Content-Type", "Content-Length", "Referer":
			continue
		}
		req.Header[k] = append([]string(nil), vv...)
	}
	return req, nil
}

// location resolves the Location header against the request URL.
func location(resp *http.Response, base *url.URL) (*url.URL, bool) {
	raw := resp.Header.Get("Location")
	if raw == "" {
		return nil, false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	return base.ResolveReference(u), true
}

func isRedirect(status int) bool {
	return status >= 300 && status <= 399
}

// discard drains and closes a response body that will not reach the caller,
// so the connection can be reused.
// referer is u without query, fragment or userinfo. The query can carry the
// crumb, and the next hop may be another host.
func referer(u *url.URL) string {
	r := *u
	r.User = nil
	r.RawQuery = ""
	r.ForceQuery = false
	r.Fragment = ""
	r.RawFragment = ""
	return r.String()
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
