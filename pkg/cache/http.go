package cache

import (
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no usable Expires header is present
	DefaultTTL = 5 * time.Minute
)

// NewEntry builds an entry from an already-read body. fallbackTTL applies
// when headers carry no Expires in the future; zero means DefaultTTL.
func NewEntry(body []byte, status int, headers http.Header, fallbackTTL time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Data:        body,
		ContentType: headers.Get("Content-Type"),
		StatusCode:  status,
		Expires:     parseExpires(headers, fallbackTTL, now),
		CachedAt:    now,
	}
}

// parseExpires returns the Expires header when it parses and lies in the
// future, otherwise now + fallbackTTL.
func parseExpires(headers http.Header, fallbackTTL time.Duration, now time.Time) time.Time {
	if fallbackTTL <= 0 {
		fallbackTTL = DefaultTTL
	}
	fallback := now.Add(fallbackTTL)

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return fallback
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		// "0", "-1" and other invalid values mean already expired; treat
		// them like a missing header.
		return fallback
	}

	if !expires.After(now) {
		return fallback
	}

	return expires
}
