// Package logging configures the process-wide zerolog logger for yf-proxy and
// programs embedding the client. Library packages never call it: they take a
// zerolog.Logger and tag it with their own component field.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a LOG_LEVEL value.
type LogLevel string

const (
	// LevelDebug adds redirect hops, throttle waits, cache lookups and
	// cookie deletions.
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"

	// LevelDisabled silences every component.
	LevelDisabled LogLevel = "disabled"
)

// Config selects level and format for Setup.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Caller adds the file:line of each event.
	Caller bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// FromEnv reads LOG_LEVEL, LOG_PRETTY and LOG_CALLER over DefaultConfig.
// Values that do not parse are ignored.
func FromEnv() Config {
	cfg := DefaultConfig()
	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if pretty, err := strconv.ParseBool(os.Getenv("LOG_PRETTY")); err == nil {
		cfg.Pretty = pretty
	}
	if caller, err := strconv.ParseBool(os.Getenv("LOG_CALLER")); err == nil {
		cfg.Caller = caller
	}
	return cfg
}

// ParseLevel normalizes s to a LogLevel. "warning" is accepted for warn.
func ParseLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch level {
	case "warning":
		return LevelWarn, nil
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelDisabled:
		return level, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// zerologLevel maps l to zerolog; anything unknown logs at info.
func (l LogLevel) zerologLevel() zerolog.Level {
	level, err := ParseLevel(string(l))
	if err != nil {
		return zerolog.InfoLevel
	}
	zl, err := zerolog.ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return zl
}

// Setup installs cfg as the global level and log.Logger and returns that
// logger. client.Config.Logger falls back to it when nil.
func Setup(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// NewLogger returns the global logger tagged with component, the same field
// the client packages set on the logger they are handed.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// What each level carries:
//
// Debug:
//   - Redirect hops (route, status, target)
//   - Throttle waits longer than a second
//   - Cache hits, misses and stores (key, TTL)
//   - Cookie deletions
//
// Info:
//   - Crumb bootstrap success and invalidation
//   - Batch completion counts
//   - Proxy startup and shutdown
//
// Warn:
//   - Upstream error statuses (404, 401, 5xx) and transport failures
//   - Cache errors, after which the request goes upstream
//   - Proxy requests naming a host outside ALLOWED_HOSTS
//
// Error:
//   - Failed crumb bootstraps
//   - Redirect chains over the hop limit
//
// Fields shared across components:
//   - component: cookies, redirect, ratelimit, crumb, client, batch, yf-proxy
//   - url: request URL with the crumb value redacted
//   - status, error_class, hop, route, ttl
