package client

import (
	"context"
	"strings"
)

// The Fetch* helpers validate their input before the URL builder runs and
// before anything touches the network. Invalid input yields an
// *ArgumentError wrapping ErrInvalidArgument.

// FetchSymbol fetches the query build returns for a single symbol.
func (c *Client) FetchSymbol(ctx context.Context, symbol string, build func(symbol string) Query) (string, error) {
	if strings.TrimSpace(symbol) == "" {
		return "", c.record(invalidArgument("symbol", "must not be empty"))
	}
	return c.Fetch(ctx, build(symbol))
}

// FetchSymbols fetches the query build returns for 1 to MaxSymbols symbols.
func (c *Client) FetchSymbols(ctx context.Context, symbols []string, build func(symbols []string) Query) (string, error) {
	if err := validateSymbols(symbols); err != nil {
		return "", c.record(err)
	}
	return c.Fetch(ctx, build(symbols))
}

// FetchCount fetches the query build returns for a result count of at
// least one.
func (c *Client) FetchCount(ctx context.Context, count int, build func(count int) Query) (string, error) {
	if count <= 0 {
		return "", c.record(invalidArgument("count", "must be at least 1 to return any data (got %d)", count))
	}
	return c.Fetch(ctx, build(count))
}

// FetchSearch fetches the query build returns for a non-blank search term.
func (c *Client) FetchSearch(ctx context.Context, term string, build func(term string) Query) (string, error) {
	if strings.TrimSpace(term) == "" {
		return "", c.record(invalidArgument("search term", "must not be empty"))
	}
	return c.Fetch(ctx, build(term))
}

func validateSymbols(symbols []string) error {
	if len(symbols) == 0 {
		return invalidArgument("symbols", "must contain at least one symbol")
	}
	if len(symbols) > MaxSymbols {
		return invalidArgument("symbols", "must not contain more than %d symbols (got %d)", MaxSymbols, len(symbols))
	}
	for i, s := range symbols {
		if strings.TrimSpace(s) == "" {
			return invalidArgument("symbols", "entry %d is empty", i)
		}
	}
	return nil
}
