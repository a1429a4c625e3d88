// Package cookies implements the process-wide cookie store shared by every hop
// of the transport pipeline.
package cookies

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// Set-Cookie lines starting with one of these prefixes announce that the
// named cookies no longer apply.
var deletionPrefixes = []string{
	"$Version=DELETE;",
	"$Path=DELETE;",
	"$Domain=DELETE;",
}

// Entry is a stored cookie. Entries are unique per (Domain, Path, Name).
type Entry struct {
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
	Secure  bool      `json:"secure"`
}

// IsExpired reports whether the entry carries an expiry in the past.
// Session cookies never expire.
func (e Entry) IsExpired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

type entryKey struct {
	domain string
	path   string
	name   string
}

// Store is a thread-safe cookie jar. Request matching (domain, path, secure
// and public-suffix rules) is delegated to net/http/cookiejar; Store keeps an
// index of what it holds so entries can be listed and removed by name.
type Store struct {
	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[entryKey]Entry
	logger  zerolog.Logger
}

// New creates an empty cookie store.
func New(logger zerolog.Logger) (*Store, error) {
	jar, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		jar:     jar,
		entries: make(map[entryKey]Entry),
		logger:  logger.With().Str("component", "cookies").Logger(),
	}, nil
}

// Attach writes every stored cookie that applies to the request URL into the
// Cookie header, replacing whatever Cookie header the request carried. A
// request with no applicable cookies is left untouched.
func (s *Store) Attach(req *http.Request) {
	if req == nil || req.URL == nil {
		return
	}

	s.mu.Lock()
	matched := s.jar.Cookies(req.URL)
	s.mu.Unlock()

	if len(matched) == 0 {
		return
	}

	req.Header.Del("Cookie")
	for _, c := range matched {
		req.AddCookie(c)
	}

	s.logger.Debug().
		Str("host", req.URL.Host).
		Int("cookies", len(matched)).
		Msg("Attached cookies")
}

// Absorb records every Set-Cookie header of resp, which answered a request to
// requestURL. Malformed lines are ignored.
func (s *Store) Absorb(resp *http.Response, requestURL *url.URL) {
	if resp == nil || requestURL == nil {
		return
	}

	lines := resp.Header.Values("Set-Cookie")
	if len(lines) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, line := range lines {
		if isDeletionLine(line) {
			s.removeNamed(requestURL, deletedNames(line))
			continue
		}

		c, err := http.ParseSetCookie(line)
		if err != nil {
			s.logger.Debug().Err(err).Str("host", requestURL.Host).Msg("Ignoring malformed Set-Cookie")
			continue
		}

		key, ok := keyFor(requestURL, c)
		if !ok {
			s.logger.Debug().
				Str("host", requestURL.Host).
				Str("domain", c.Domain).
				Str("name", c.Name).
				Msg("Ignoring cookie for foreign domain")
			continue
		}

		s.jar.SetCookies(requestURL, []*http.Cookie{c})

		if expires, live := expiry(c, now); live {
			s.entries[key] = Entry{
				Domain:  key.domain,
				Path:    key.path,
				Name:    key.name,
				Value:   c.Value,
				Expires: expires,
				Secure:  c.Secure,
			}
		} else {
			delete(s.entries, key)
			cookieDeletionsTotal.Inc()
		}
	}

	cookiesStored.Set(float64(len(s.entries)))
}

// Entries returns a snapshot of the unexpired stored cookies, ordered by
// domain, path and name.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if e.IsExpired(now) {
			delete(s.entries, k)
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of stored entries, expired ones included until the
// next Entries call prunes them.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// removeNamed drops every entry visible from u whose name is listed.
// Caller holds s.mu.
func (s *Store) removeNamed(u *url.URL, names []string) {
	if len(names) == 0 {
		return
	}

	host := canonicalHost(u)
	for k := range s.entries {
		if !contains(names, k.name) || !domainMatch(host, k.domain) {
			continue
		}

		target := &url.URL{Scheme: "https", Host: k.domain, Path: k.path}
		s.jar.SetCookies(target, []*http.Cookie{{
			Name:   k.name,
			Path:   k.path,
			MaxAge: -1,
		}})
		delete(s.entries, k)
		cookieDeletionsTotal.Inc()

		s.logger.Debug().
			Str("domain", k.domain).
			Str("name", k.name).
			Msg("Removed cookie on deletion marker")
	}
}

func isDeletionLine(line string) bool {
	for _, p := range deletionPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// deletedNames lists the cookie names in a deletion line, skipping the
// $-prefixed attributes.
func deletedNames(line string) []string {
	var names []string
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		name, _, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "$") {
			continue
		}
		names = append(names, name)
	}
	return names
}

// keyFor computes the (domain, path, name) key the jar will store c under,
// and reports false for cookies the jar would reject.
func keyFor(u *url.URL, c *http.Cookie) (entryKey, bool) {
	host := canonicalHost(u)
	if host == "" || c.Name == "" {
		return entryKey{}, false
	}

	domain := host
	if c.Domain != "" {
		d := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if !domainMatch(host, d) {
			return entryKey{}, false
		}
		if d != host {
			if ps, _ := publicsuffix.PublicSuffix(d); ps == d {
				return entryKey{}, false
			}
		}
		domain = d
	}

	path := c.Path
	if path == "" || path[0] != '/' {
		path = defaultPath(u.Path)
	}

	return entryKey{domain: domain, path: path, name: c.Name}, true
}

// expiry returns the absolute expiry of c and whether c is still live.
func expiry(c *http.Cookie, now time.Time) (time.Time, bool) {
	switch {
	case c.MaxAge < 0:
		return time.Time{}, false
	case c.MaxAge > 0:
		return now.Add(time.Duration(c.MaxAge) * time.Second), true
	case !c.Expires.IsZero():
		return c.Expires, c.Expires.After(now)
	default:
		return time.Time{}, true
	}
}

// defaultPath implements RFC 6265 section 5.1.4.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func canonicalHost(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
