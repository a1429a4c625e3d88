package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/yfinance-client/pkg/batch"
	"github.com/Sternrassler/yfinance-client/pkg/client"
	"github.com/Sternrassler/yfinance-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxBatchQueries caps one /batch request.
const maxBatchQueries = 100

// fetchContentType is served for every /fetch body regardless of the
// requested Accept.
const fetchContentType = "text/plain; charset=utf-8"

type healthResponse struct {
	Status   string         `json:"status"`
	Cache    bool           `json:"cache"`
	Throttle throttleStatus `json:"throttle"`
}

type throttleStatus struct {
	InFlight        int  `json:"in_flight"`
	WindowUsed      int  `json:"window_used"`
	WindowRemaining int  `json:"window_remaining"`
	Saturated       bool `json:"saturated"`
}

type batchRequest struct {
	Queries []batchQuery `json:"queries"`
}

type batchQuery struct {
	URL    string `json:"url"`
	Crumb  bool   `json:"crumb"`
	Accept string `json:"accept,omitempty"`
}

type batchResult struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// newServer registers the proxy routes. /fetch and /batch only reach hosts
// in allowed.
func newServer(yf *client.Client, redisClient *redis.Client, allowed hostAllowlist, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler(yf))
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /fetch", fetchHandler(yf, allowed, logger))
	mux.HandleFunc("POST /batch", batchHandler(yf, allowed, logger))
	return mux
}

func healthHandler(yf *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := yf.ThrottleState()
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Cache:  yf.CacheEnabled(),
			Throttle: throttleStatus{
				InFlight:        s.InFlight,
				WindowUsed:      s.WindowUsed,
				WindowRemaining: s.WindowRemaining(),
				Saturated:       s.IsSaturated(),
			},
		})
	}
}

// readyHandler reports 503 while a configured Redis is unreachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// fetchHandler serves GET /fetch?url=<upstream url>[&crumb=1][&accept=<type>].
func fetchHandler(yf *client.Client, allowed hostAllowlist, base zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(base, r)

		q, err := queryFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := allowed.check(q.URL); err != nil {
			logger.Warn().Err(err).Msg("Rejected upstream host")
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}

		body, err := yf.Fetch(r.Context(), q)
		if err != nil {
			status := httpStatus(err)
			logger.Warn().
				Err(err).
				Int("status", status).
				Str("error_class", string(client.Classify(err))).
				Msg("Fetch failed")
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", fetchContentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			logger.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// batchHandler serves POST /batch with a JSON list of queries and answers
// with one result per query, in order. Queries naming a host outside allowed
// fail with 403 without being sent.
func batchHandler(yf *client.Client, allowed hostAllowlist, base zerolog.Logger) http.HandlerFunc {
	fetcher := batch.NewFetcher(yf, batch.DefaultConfig(), base)

	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(base, r)

		var req batchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid batch request: %v", err), http.StatusBadRequest)
			return
		}
		if len(req.Queries) == 0 || len(req.Queries) > maxBatchQueries {
			http.Error(w, fmt.Sprintf("batch must hold 1 to %d queries (got %d)", maxBatchQueries, len(req.Queries)), http.StatusBadRequest)
			return
		}

		out := make([]batchResult, len(req.Queries))
		queries := make([]client.Query, 0, len(req.Queries))
		slots := make([]int, 0, len(req.Queries))
		for i, bq := range req.Queries {
			if err := allowed.check(bq.URL); err != nil {
				out[i] = batchResult{URL: bq.URL, Status: http.StatusForbidden, Error: err.Error()}
				continue
			}
			queries = append(queries, client.Query{URL: bq.URL, Crumb: bq.Crumb, Accept: bq.Accept})
			slots = append(slots, i)
		}
		if rejected := len(req.Queries) - len(queries); rejected > 0 {
			logger.Warn().Int("rejected", rejected).Msg("Rejected upstream hosts in batch")
		}

		if len(queries) > 0 {
			results, err := fetcher.FetchAll(r.Context(), queries)
			if err != nil {
				logger.Warn().Err(err).Msg("Batch incomplete")
			}
			for j, res := range results {
				i := slots[j]
				out[i] = batchResult{URL: res.Query.URL, Status: http.StatusOK, Body: res.Body}
				if res.Err != nil {
					out[i].Status = httpStatus(res.Err)
					out[i].Error = res.Err.Error()
				}
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func queryFromRequest(r *http.Request) (client.Query, error) {
	params := r.URL.Query()

	q := client.Query{
		URL:    params.Get("url"),
		Accept: params.Get("accept"),
	}
	if q.URL == "" {
		return client.Query{}, errors.New("missing url parameter")
	}
	if raw := params.Get("crumb"); raw != "" {
		crumb, err := strconv.ParseBool(raw)
		if err != nil {
			return client.Query{}, fmt.Errorf("invalid crumb parameter %q", raw)
		}
		q.Crumb = crumb
	}
	return q, nil
}

// httpStatus maps a client error to the proxy's response status.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, client.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, client.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
