package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// restoreGlobals undoes Setup's changes to the global level and logger.
func restoreGlobals(t *testing.T) {
	t.Helper()
	level := zerolog.GlobalLevel()
	logger := log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = logger
	})
}

// decodeLines parses JSON log output into one map per event.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Pretty || cfg.Caller {
		t.Errorf("DefaultConfig() = %+v, want info JSON without caller", cfg)
	}
	if cfg.Output != os.Stderr {
		t.Error("DefaultConfig().Output should be os.Stderr")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{input: "debug", want: LevelDebug},
		{input: " Info ", want: LevelInfo},
		{input: "WARN", want: LevelWarn},
		{input: "warning", want: LevelWarn},
		{input: "error", want: LevelError},
		{input: "disabled", want: LevelDisabled},
		{input: "trace", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{level: LevelDebug, want: []string{"hop", "crumb acquired", "upstream 404", "bootstrap failed"}},
		{level: LevelInfo, want: []string{"crumb acquired", "upstream 404", "bootstrap failed"}},
		{level: LevelWarn, want: []string{"upstream 404", "bootstrap failed"}},
		{level: LevelError, want: []string{"bootstrap failed"}},
		{level: LevelDisabled, want: nil},
		{level: "bogus", want: []string{"crumb acquired", "upstream 404", "bootstrap failed"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			restoreGlobals(t)
			buf := &bytes.Buffer{}
			Setup(Config{Level: tt.level, Output: buf})

			logger := NewLogger("crumb")
			logger.Debug().Msg("hop")
			logger.Info().Msg("crumb acquired")
			logger.Warn().Msg("upstream 404")
			logger.Error().Msg("bootstrap failed")

			events := decodeLines(t, buf)
			if len(events) != len(tt.want) {
				t.Fatalf("got %d events, want %d:\n%s", len(events), len(tt.want), buf.String())
			}
			for i, msg := range tt.want {
				if events[i]["message"] != msg {
					t.Errorf("event %d message = %v, want %q", i, events[i]["message"], msg)
				}
			}
		})
	}
}

func TestNewLogger_ComponentField(t *testing.T) {
	restoreGlobals(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	for _, component := range []string{"yf-proxy", "redirect"} {
		logger := NewLogger(component)
		logger.Info().Str("route", "consent").Msg("component event")
	}

	events := decodeLines(t, buf)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for i, want := range []string{"yf-proxy", "redirect"} {
		if events[i]["component"] != want {
			t.Errorf("event %d component = %v, want %q", i, events[i]["component"], want)
		}
		if events[i]["route"] != "consent" {
			t.Errorf("event %d route = %v, want consent", i, events[i]["route"])
		}
		if _, ok := events[i]["time"]; !ok {
			t.Errorf("event %d has no timestamp", i)
		}
	}
}

func TestSetup_GlobalLoggerForLibraries(t *testing.T) {
	restoreGlobals(t)
	buf := &bytes.Buffer{}
	returned := Setup(Config{Level: LevelInfo, Output: buf})

	// Client packages derive their logger from log.Logger when none is given.
	derived := log.Logger.With().Str("component", "ratelimit").Logger()
	derived.Info().Msg("from global")
	returned.Info().Msg("from returned")

	events := decodeLines(t, buf)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2:\n%s", len(events), buf.String())
	}
	if events[0]["component"] != "ratelimit" {
		t.Errorf("component = %v, want ratelimit", events[0]["component"])
	}
}

func TestSetup_Caller(t *testing.T) {
	restoreGlobals(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Caller: true, Output: buf})

	logger := NewLogger("client")
	logger.Info().Msg("with caller")

	events := decodeLines(t, buf)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	caller, _ := events[0]["caller"].(string)
	if !strings.Contains(caller, "logger_test.go") {
		t.Errorf("caller = %q, want this test file", caller)
	}
}

func TestSetup_Pretty(t *testing.T) {
	restoreGlobals(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})

	logger := NewLogger("batch")
	logger.Info().Int("queries", 3).Msg("Batch complete")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("pretty output looks like JSON: %q", out)
	}
	if !strings.Contains(out, "Batch complete") || !strings.Contains(out, "queries=") {
		t.Errorf("pretty output = %q, want message and queries field", out)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		pretty     string
		caller     string
		wantLevel  LogLevel
		wantPretty bool
		wantCaller bool
	}{
		{name: "unset", wantLevel: LevelInfo},
		{name: "debug pretty", level: "debug", pretty: "true", wantLevel: LevelDebug, wantPretty: true},
		{name: "warning alias", level: "Warning", pretty: "0", wantLevel: LevelWarn},
		{name: "caller", level: "error", caller: "1", wantLevel: LevelError, wantCaller: true},
		{name: "unknown level keeps default", level: "verbose", pretty: "maybe", wantLevel: LevelInfo},
		{name: "disabled", level: "disabled", wantLevel: LevelDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			t.Setenv("LOG_PRETTY", tt.pretty)
			t.Setenv("LOG_CALLER", tt.caller)

			cfg := FromEnv()
			if cfg.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.wantLevel)
			}
			if cfg.Pretty != tt.wantPretty {
				t.Errorf("Pretty = %v, want %v", cfg.Pretty, tt.wantPretty)
			}
			if cfg.Caller != tt.wantCaller {
				t.Errorf("Caller = %v, want %v", cfg.Caller, tt.wantCaller)
			}
		})
	}
}
