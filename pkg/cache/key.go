package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// CrumbParam is the query parameter excluded from cache keys.
const CrumbParam = "crumb"

// CacheKey identifies a cached upstream response.
type CacheKey struct {
	// Host is the upstream host (e.g., "query1.finance.yahoo.com")
	Host string

	// Path is the escaped request path (e.g., "/v8/finance/chart/AAPL")
	Path string

	// QueryParams are the query parameters, crumb excluded
	QueryParams url.Values

	// Accept is the requested media type, empty for the default
	Accept string
}

// KeyFromURL builds the key for rawURL. The crumb parameter is dropped.
func KeyFromURL(rawURL string) (CacheKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return CacheKey{}, fmt.Errorf("url %q has no host", rawURL)
	}

	query := u.Query()
	query.Del(CrumbParam)

	return CacheKey{
		Host:        strings.ToLower(u.Host),
		Path:        u.EscapedPath(),
		QueryParams: query,
	}, nil
}

// String generates a deterministic cache key string.
// Format: yf:host/path[?encoded query][#escaped accept]
//
// The query is url-encoded with sorted keys, so neither '?' nor '#' can
// appear inside a component.
//
// Example:
//
//	yf:query1.finance.yahoo.com/v7/finance/quote?symbols=AAPL%2CMSFT#text%2Fcsv
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString("yf:")
	b.WriteString(strings.TrimRight(k.Host+"/"+strings.TrimLeft(k.Path, "/"), "/"))

	if len(k.QueryParams) > 0 {
		query := make(url.Values, len(k.QueryParams))
		for key, vals := range k.QueryParams {
			if key != CrumbParam {
				query[key] = vals
			}
		}
		if encoded := query.Encode(); encoded != "" {
			b.WriteByte('?')
			b.WriteString(encoded)
		}
	}

	if k.Accept != "" {
		b.WriteByte('#')
		b.WriteString(url.QueryEscape(k.Accept))
	}

	return b.String()
}
