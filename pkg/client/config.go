package client

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/yfinance-client/pkg/crumb"
	"github.com/Sternrassler/yfinance-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultUserAgent mimics a desktop browser; the upstream rejects obvious
// library agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultRequestTimeout applies when the caller's context has no deadline.
const DefaultRequestTimeout = 2 * time.Minute

// Config holds the client configuration.
type Config struct {
	// Redis client for the optional response cache
	Redis *redis.Client

	// CacheTTL is the fallback cache lifetime for responses without a
	// usable Expires header. Zero disables caching.
	CacheTTL time.Duration

	// User-Agent header sent on every hop
	UserAgent string

	// Headers are added to every hop unless the request sets them.
	Headers map[string]string

	// Throttling
	MaxPerPeriod int           // Admissions per sliding window
	Period       time.Duration // Window length
	MaxParallel  int           // Max requests in flight, clamped to MaxPerPeriod

	// RequestTimeout bounds a send when the caller's context has no deadline.
	RequestTimeout time.Duration

	// Crumb bootstrap endpoints
	RootURL  string
	CrumbURL string

	// HTTPClient is the base client for network I/O. Its redirect policy
	// and cookie jar are replaced. Nil means a client with default transport.
	HTTPClient *http.Client

	// Logger overrides the global logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the production configuration. The cache stays
// disabled until Redis and CacheTTL are set.
func DefaultConfig() Config {
	budget := ratelimit.DefaultBudget()
	return Config{
		UserAgent: DefaultUserAgent,
		Headers: map[string]string{
			"Cache-Control":             "no-cache",
			"Pragma":                    "no-cache",
			"Upgrade-Insecure-Requests": "1",
		},
		MaxPerPeriod:   budget.MaxPerPeriod,
		Period:         budget.Period,
		MaxParallel:    budget.MaxParallel,
		RequestTimeout: DefaultRequestTimeout,
		RootURL:        crumb.DefaultRootURL,
		CrumbURL:       crumb.DefaultCrumbURL,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}

	if c.MaxPerPeriod < 1 {
		return fmt.Errorf("max_per_period must be >= 1 (got %d)", c.MaxPerPeriod)
	}

	if c.Period <= 0 {
		return fmt.Errorf("period must be > 0 (got %s)", c.Period)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be >= 0 (got %s)", c.RequestTimeout)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must be >= 0 (got %s)", c.CacheTTL)
	}

	for name, raw := range map[string]string{"root_url": c.RootURL, "crumb_url": c.CrumbURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL (got %q)", name, raw)
		}
	}

	return nil
}

func (c Config) budget() ratelimit.Budget {
	return ratelimit.Budget{
		MaxPerPeriod: c.MaxPerPeriod,
		Period:       c.Period,
		MaxParallel:  c.MaxParallel,
	}
}

func (c Config) cacheEnabled() bool {
	return c.Redis != nil && c.CacheTTL > 0
}
