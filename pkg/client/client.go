// Package client is the request dispatcher of the upstream transport
// pipeline. A Client turns a fully formed URL into the raw response text,
// attaching the crumb when asked to. Underneath, every request passes the
// throttle gate, the redirect follower and the shared cookie store.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/yfinance-client/pkg/cache"
	"github.com/Sternrassler/yfinance-client/pkg/cookies"
	"github.com/Sternrassler/yfinance-client/pkg/crumb"
	"github.com/Sternrassler/yfinance-client/pkg/ratelimit"
	"github.com/Sternrassler/yfinance-client/pkg/redirect"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Query is one upstream request.
type Query struct {
	// URL is the fully formed request URL.
	URL string

	// Crumb appends crumb=<token> to the query string.
	Crumb bool

	// Accept sets the Accept header when non-empty.
	Accept string
}

// Client is the upstream client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cookies    *cookies.Store
	gate       *ratelimit.Gate
	crumbs     *crumb.Provider
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new client and wires the pipeline:
// gate -> redirect follower -> cookie store -> network.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	logger := base.With().Str("component", "client").Logger()

	baseHTTP := cfg.HTTPClient
	if baseHTTP == nil {
		baseHTTP = &http.Client{}
	}
	httpClient := redirect.NoFollow(baseHTTP)
	httpClient.Transport = newHeaderTransport(baseHTTP.Transport, cfg.UserAgent, cfg.Headers)

	store, err := cookies.New(base)
	if err != nil {
		return nil, fmt.Errorf("create cookie store: %w", err)
	}

	follower := redirect.New(httpClient, store, base)

	gate, err := ratelimit.NewGate(follower, cfg.budget(), base)
	if err != nil {
		return nil, fmt.Errorf("create throttle gate: %w", err)
	}

	crumbTimeout := cfg.RequestTimeout
	if crumbTimeout == 0 {
		crumbTimeout = crumb.DefaultTimeout
	}
	crumbs, err := crumb.New(gate, crumb.Config{
		RootURL:  cfg.RootURL,
		CrumbURL: cfg.CrumbURL,
		Timeout:  crumbTimeout,
	}, base)
	if err != nil {
		return nil, fmt.Errorf("create crumb provider: %w", err)
	}

	var cacheManager *cache.Manager
	if cfg.cacheEnabled() {
		cacheManager = cache.NewManager(cfg.Redis)
	}

	budget := gate.Budget()
	logger.Debug().
		Int("max_per_period", budget.MaxPerPeriod).
		Dur("period", budget.Period).
		Int("max_parallel", budget.MaxParallel).
		Bool("cache", cacheManager != nil).
		Msg("Client created")

	return &Client{
		httpClient: httpClient,
		cookies:    store,
		gate:       gate,
		crumbs:     crumbs,
		cache:      cacheManager,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Send fetches rawURL and returns the response body.
func (c *Client) Send(ctx context.Context, rawURL string) (string, error) {
	return c.Fetch(ctx, Query{URL: rawURL})
}

// Fetch performs q and returns the response body. Non-2xx responses are
// returned as *UpstreamError; nothing is retried.
func (c *Client) Fetch(ctx context.Context, q Query) (string, error) {
	body, err := c.fetch(ctx, q)
	if err != nil {
		return "", c.record(err)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, q Query) (string, error) {
	u, err := parseURL(q.URL)
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok && c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	// The cache key ignores the crumb, so a hit needs no token at all.
	key, cacheable := c.cacheKey(q)
	if cacheable {
		if body, ok := c.cached(ctx, key); ok {
			return body, nil
		}
	}

	rawURL := q.URL
	if q.Crumb {
		token, err := c.crumbs.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("get crumb: %w", err)
		}
		rawURL = withCrumb(u, token)
		if len(rawURL) > MaxURLLength {
			return "", invalidArgument("url", "longer than %d characters with crumb attached", MaxURLLength)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", invalidArgument("url", "%v", err)
	}
	if q.Accept != "" {
		req.Header.Set("Accept", q.Accept)
	}

	c.logger.Debug().
		Str("url", redactCrumb(req.URL)).
		Bool("crumb", q.Crumb).
		Msg("Sending request")

	start := time.Now()
	resp, err := c.gate.Do(req)
	requestDuration.WithLabelValues(u.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(u.Host, "error").Inc()
		c.logger.Warn().Err(err).Str("url", redactCrumb(req.URL)).Msg("Request failed")
		return "", fmt.Errorf("send %s: %w", redactCrumb(req.URL), err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(u.Host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		se := statusError(resp, redactCrumb(req.URL))
		c.logger.Warn().
			Str("url", se.URL).
			Int("status", resp.StatusCode).
			Str("error_class", string(se.ErrorClass)).
			Msg("Upstream error response")
		return "", se
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if cacheable && resp.StatusCode == http.StatusOK {
		c.store(ctx, key, body, resp.Header)
	}

	return string(body), nil
}

// record counts a failed send by class and passes the error through.
func (c *Client) record(err error) error {
	errorsTotal.WithLabelValues(string(Classify(err))).Inc()
	return err
}

func (c *Client) cacheKey(q Query) (cache.CacheKey, bool) {
	if c.cache == nil {
		return cache.CacheKey{}, false
	}
	key, err := cache.KeyFromURL(q.URL)
	if err != nil {
		return cache.CacheKey{}, false
	}
	key.Accept = q.Accept
	return key, true
}

func (c *Client) cached(ctx context.Context, key cache.CacheKey) (string, bool) {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return "", false
	}

	cacheServedTotal.Inc()
	c.logger.Debug().
		Str("key", key.String()).
		Dur("age", entry.Age()).
		Msg("Served from cache")
	return string(entry.Data), true
}

func (c *Client) store(ctx context.Context, key cache.CacheKey, body []byte, header http.Header) {
	entry := cache.NewEntry(body, http.StatusOK, header, c.config.CacheTTL)
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Cached response")
}

// Crumb returns the current crumb, bootstrapping it if needed.
func (c *Client) Crumb(ctx context.Context) (string, error) {
	token, err := c.crumbs.Get(ctx)
	if err != nil {
		return "", c.record(err)
	}
	return token, nil
}

// InvalidateCrumb drops the cached crumb; the next crumb query bootstraps
// a new one.
func (c *Client) InvalidateCrumb() {
	c.crumbs.Invalidate()
}

// ThrottleState returns a snapshot of the throttle gate.
func (c *Client) ThrottleState() ratelimit.State {
	return c.gate.State()
}

// Cookies returns the stored cookies.
func (c *Client) Cookies() []cookies.Entry {
	return c.cookies.Entries()
}

// CacheEnabled reports whether responses are cached.
func (c *Client) CacheEnabled() bool {
	return c.cache != nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func parseURL(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, invalidArgument("url", "must not be empty")
	}
	if len(rawURL) > MaxURLLength {
		return nil, invalidArgument("url", "longer than %d characters", MaxURLLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, invalidArgument("url", "%v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidArgument("url", "must be an absolute http(s) URL")
	}
	return u, nil
}

// withCrumb returns u with crumb=token as the last query parameter. token is
// already escaped. An existing crumb parameter is replaced.
func withCrumb(u *url.URL, token string) string {
	out := *u

	var parts []string
	for _, p := range strings.Split(u.RawQuery, "&") {
		if p == "" || p == cache.CrumbParam || strings.HasPrefix(p, cache.CrumbParam+"=") {
			continue
		}
		parts = append(parts, p)
	}
	parts = append(parts, cache.CrumbParam+"="+token)

	out.RawQuery = strings.Join(parts, "&")
	return out.String()
}

// redactCrumb renders u for logs with the crumb value hidden.
func redactCrumb(u *url.URL) string {
	if !strings.Contains(u.RawQuery, cache.CrumbParam+"=") {
		return u.Redacted()
	}

	out := *u
	parts := strings.Split(u.RawQuery, "&")
	for i, p := range parts {
		if strings.HasPrefix(p, cache.CrumbParam+"=") {
			parts[i] = cache.CrumbParam + "=xxxxx"
		}
	}
	out.RawQuery = strings.Join(parts, "&")
	return out.Redacted()
}
