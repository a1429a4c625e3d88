// Package crumb acquires and caches the upstream's anti-forgery token.
//
// The token is obtained with a two step bootstrap: a visit to the site root
// seeds the session cookies, then the token endpoint returns the crumb as
// plain text. Both requests travel through the same pipeline as regular
// traffic so they are throttled and share the cookie store.
package crumb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Bootstrap endpoints.
const (
	DefaultRootURL  = "https://finance.yahoo.com/"
	DefaultCrumbURL = "https://query2.finance.yahoo.com/v1/test/getcrumb"

	// DefaultTimeout bounds one bootstrap, both requests included.
	DefaultTimeout = 2 * time.Minute
)

var (
	// ErrAuthBootstrapFailed means the site root did not answer 200.
	ErrAuthBootstrapFailed = errors.New("auth bootstrap failed")

	// ErrCrumbFetchFailed means the token endpoint did not return a token.
	ErrCrumbFetchFailed = errors.New("crumb fetch failed")
)

const flightKey = "crumb"

// maxCrumbBytes caps the token endpoint body.
const maxCrumbBytes = 4 << 10

// StatusError reports a bootstrap step that got an unexpected status.
type StatusError struct {
	Step       string
	URL        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s returned status %d", e.Err, e.Step, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Doer sends a request through the pipeline.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the bootstrap endpoints.
type Config struct {
	RootURL  string
	CrumbURL string
	Timeout  time.Duration
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		RootURL:  DefaultRootURL,
		CrumbURL: DefaultCrumbURL,
		Timeout:  DefaultTimeout,
	}
}

// Crumb is a cached token.
type Crumb struct {
	Token     string
	FetchedAt time.Time
}

// Provider hands out the crumb, bootstrapping it on first use. Concurrent
// first use results in a single bootstrap. Failures are not cached.
type Provider struct {
	doer   Doer
	cfg    Config
	origin string
	logger zerolog.Logger

	mu    sync.RWMutex
	crumb *Crumb
	group singleflight.Group
}

// New creates a Provider that sends through doer.
func New(doer Doer, cfg Config, logger zerolog.Logger) (*Provider, error) {
	if doer == nil {
		return nil, errors.New("doer must not be nil")
	}

	root, err := url.Parse(cfg.RootURL)
	if err != nil || root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("invalid root URL %q", cfg.RootURL)
	}
	if u, err := url.Parse(cfg.CrumbURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid crumb URL %q", cfg.CrumbURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		doer:   doer,
		cfg:    cfg,
		origin: root.Scheme + "://" + root.Host,
		logger: logger.With().Str("component", "crumb").Logger(),
	}, nil
}

// Get returns the cached crumb or bootstraps one. The bootstrap is shared by
// every concurrent caller and is not aborted when one caller gives up; ctx
// only bounds how long this caller waits.
func (p *Provider) Get(ctx context.Context) (string, error) {
	if c, ok := p.Cached(); ok {
		return c.Token, nil
	}

	ch := p.group.DoChan(flightKey, func() (interface{}, error) {
		if c, ok := p.Cached(); ok {
			return c.Token, nil
		}

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
		defer cancel()
		return p.bootstrap(bctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			bootstrapSharedTotal.Inc()
		}
		return res.Val.(string), nil
	}
}

// Cached returns the cached crumb, if any, without touching the network.
func (p *Provider) Cached() (Crumb, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.crumb == nil {
		return Crumb{}, false
	}
	return *p.crumb, true
}

// Invalidate drops the cached crumb; the next Get bootstraps again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	had := p.crumb != nil
	p.crumb = nil
	p.mu.Unlock()

	if had {
		p.logger.Info().Msg("Crumb invalidated")
	}
}

func (p *Provider) bootstrap(ctx context.Context) (string, error) {
	start := time.Now()

	token, err := p.fetch(ctx)
	bootstrapDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		bootstrapTotal.WithLabelValues(outcome(err)).Inc()
		p.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Crumb bootstrap failed")
		return "", err
	}
	bootstrapTotal.WithLabelValues("success").Inc()

	p.mu.Lock()
	p.crumb = &Crumb{Token: token, FetchedAt: time.Now()}
	p.mu.Unlock()

	p.logger.Info().Dur("duration", time.Since(start)).Msg("Crumb acquired")
	return token, nil
}

func (p *Provider) fetch(ctx context.Context) (string, error) {
	resp, err := p.get(ctx, p.cfg.RootURL, map[string]string{
		"Accept": "text/html",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthBootstrapFailed, err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Step: "site root", URL: p.cfg.RootURL, StatusCode: resp.StatusCode, Err: ErrAuthBootstrapFailed}
	}

	resp, err = p.get(ctx, p.cfg.CrumbURL, map[string]string{
		"Accept":         "text/plain",
		"Origin":         p.origin,
		"Sec-Fetch-Dest": "empty",
		"Sec-Fetch-Mode": "cors",
		"Sec-Fetch-Site": "same-site",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrumbFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return "", &StatusError{Step: "token endpoint", URL: p.cfg.CrumbURL, StatusCode: resp.StatusCode, Err: ErrCrumbFetchFailed}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCrumbBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrCrumbFetchFailed, err)
	}

	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrCrumbFetchFailed)
	}
	return Escape(raw), nil
}

func (p *Provider) get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return p.doer.Do(req)
}

// Escape percent-encodes s for use as a query value, encoding everything
// outside the RFC 3986 unreserved set. Spaces become %20.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrAuthBootstrapFailed):
		return "auth_failed"
	case errors.Is(err, ErrCrumbFetchFailed):
		return "crumb_failed"
	default:
		return "error"
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
