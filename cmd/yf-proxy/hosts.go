package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// defaultAllowedHosts covers finance.yahoo.com and its query1/query2 API hosts.
const defaultAllowedHosts = "finance.yahoo.com"

var errHostNotAllowed = errors.New("host not allowed")

// hostAllowlist restricts which upstream hosts the proxy fetches from. The
// crumb is attached to proxied URLs, so only trusted hosts may be named.
//
// An entry without a port matches that host and all of its subdomains. An
// entry with a port ("127.0.0.1:8080") matches that host:port only.
type hostAllowlist []string

// parseAllowedHosts splits a comma-separated list, lowercasing entries and
// dropping blanks and leading "*." wildcards.
func parseAllowedHosts(raw string) hostAllowlist {
	var hosts hostAllowlist
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		entry = strings.TrimPrefix(entry, "*.")
		if entry != "" {
			hosts = append(hosts, entry)
		}
	}
	return hosts
}

// check returns nil when rawURL names an allowed host.
func (a hostAllowlist) check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Left to the client, which reports it as an invalid argument.
		return nil
	}

	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())
	for _, entry := range a {
		if _, _, err := net.SplitHostPort(entry); err == nil {
			if host == entry {
				return nil
			}
			continue
		}
		entry = strings.Trim(entry, "[]")
		if hostname == entry || strings.HasSuffix(hostname, "."+entry) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errHostNotAllowed, u.Host)
}
