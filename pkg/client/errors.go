package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/yfinance-client/pkg/crumb"
	"github.com/Sternrassler/yfinance-client/pkg/redirect"
)

// MaxURLLength is the longest URL the upstream accepts.
const MaxURLLength = 2083

// MaxSymbols is the largest symbol list accepted by multi-symbol queries.
const MaxSymbols = 250

// Common errors returned by the client.
var (
	// ErrInvalidArgument is returned for bad input. No request was sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("requested information not available")

	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("upstream authentication error")

	// ErrUpstream is returned for every other non-2xx response.
	ErrUpstream = errors.New("upstream server error")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassInvalidArgument represents rejected input.
	ErrorClassInvalidArgument ErrorClass = "invalid_argument"

	// ErrorClassNotFound represents 404 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassUnauthorized represents 401 and 403 responses.
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassClient represents other 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx and unexpected responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRedirect represents redirect chains that hit the hop limit.
	ErrorClassRedirect ErrorClass = "redirect"

	// ErrorClassAuth represents failed crumb bootstraps.
	ErrorClassAuth ErrorClass = "auth"
)

// UpstreamError is a non-2xx answer from the upstream.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ArgumentError reports input rejected before any request was sent.
type ArgumentError struct {
	Arg    string
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

// Unwrap returns ErrInvalidArgument.
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgument(arg, format string, a ...any) error {
	return &ArgumentError{Arg: arg, Reason: fmt.Sprintf(format, a...)}
}

// statusError maps a non-2xx status to an UpstreamError.
func statusError(resp *http.Response, rawURL string) *UpstreamError {
	e := &UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		URL:        rawURL,
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.ErrorClass = ErrorClassNotFound
		e.Err = ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.ErrorClass = ErrorClassUnauthorized
		e.Err = ErrUnauthorized
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.ErrorClass = ErrorClassClient
		e.Err = ErrUpstream
	default:
		e.ErrorClass = ErrorClassServer
		e.Err = ErrUpstream
	}
	return e
}

// Classify returns the ErrorClass of an error returned by the client.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.ErrorClass
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return ErrorClassInvalidArgument
	case errors.Is(err, redirect.ErrTooManyRedirects):
		return ErrorClassRedirect
	case errors.Is(err, crumb.ErrAuthBootstrapFailed), errors.Is(err, crumb.ErrCrumbFetchFailed):
		return ErrorClassAuth
	default:
		return ErrorClassNetwork
	}
}
