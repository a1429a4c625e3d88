// Command yf-proxy serves upstream finance data over a small HTTP API. Every
// request goes through one shared client, so all callers share its cookies,
// its crumb and its throttle budget.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/yfinance-client/pkg/client"
	"github.com/Sternrassler/yfinance-client/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// proxyConfig is the process configuration read from the environment.
type proxyConfig struct {
	Addr         string
	RedisURL     string
	AllowedHosts hostAllowlist
	Client       client.Config
}

func main() {
	logging.Setup(logging.FromEnv())
	logger := logging.NewLogger("yf-proxy")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
		cfg.Client.Redis = redisClient
	}

	yf, err := client.New(cfg.Client)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}
	defer yf.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newServer(yf, redisClient, cfg.AllowedHosts, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	logger.Info().
		Str("addr", cfg.Addr).
		Int("max_per_period", cfg.Client.MaxPerPeriod).
		Dur("period", cfg.Client.Period).
		Int("max_parallel", cfg.Client.MaxParallel).
		Strs("allowed_hosts", cfg.AllowedHosts).
		Bool("cache", yf.CacheEnabled()).
		Msg("Starting yf-proxy")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// loadConfig builds the configuration from PORT, REDIS_URL, ALLOWED_HOSTS,
// USER_AGENT, MAX_PER_PERIOD, PERIOD, MAX_PARALLEL, CACHE_TTL and
// REQUEST_TIMEOUT.
func loadConfig() (proxyConfig, error) {
	cc := client.DefaultConfig()
	cc.UserAgent = getEnv("USER_AGENT", cc.UserAgent)

	var err error
	if cc.MaxPerPeriod, err = envInt("MAX_PER_PERIOD", cc.MaxPerPeriod); err != nil {
		return proxyConfig{}, err
	}
	if cc.MaxParallel, err = envInt("MAX_PARALLEL", cc.MaxParallel); err != nil {
		return proxyConfig{}, err
	}
	if cc.Period, err = envDuration("PERIOD", cc.Period); err != nil {
		return proxyConfig{}, err
	}
	if cc.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", cc.RequestTimeout); err != nil {
		return proxyConfig{}, err
	}
	if cc.CacheTTL, err = envDuration("CACHE_TTL", 0); err != nil {
		return proxyConfig{}, err
	}

	cfg := proxyConfig{
		Addr:         ":" + getEnv("PORT", "8080"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AllowedHosts: parseAllowedHosts(getEnv("ALLOWED_HOSTS", defaultAllowedHosts)),
		Client:       cc,
	}
	if len(cfg.AllowedHosts) == 0 {
		return proxyConfig{}, fmt.Errorf("ALLOWED_HOSTS: no hosts listed")
	}
	if cfg.RedisURL != "" && cc.CacheTTL == 0 {
		cfg.Client.CacheTTL = 5 * time.Minute
	}

	return cfg, cfg.Client.Validate()
}

// newRedis accepts either a redis:// URL or a bare host:port.
func newRedis(raw string) (*redis.Client, error) {
	if opts, err := redis.ParseURL(raw); err == nil {
		return redis.NewClient(opts), nil
	}
	if raw == "" {
		return nil, fmt.Errorf("empty address")
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// requestLogger returns a logger for one inbound request.
func requestLogger(base zerolog.Logger, r *http.Request) zerolog.Logger {
	return base.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
}
