package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/yfinance-client/pkg/client"
	"github.com/rs/zerolog"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the number of workers.
	// Matching the throttle gate's parallel limit avoids idle goroutines.
	MaxConcurrency int

	// Timeout per query; zero leaves it to the client.
	Timeout time.Duration
}

// DefaultConfig returns a pool sized to the client's default parallel limit.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
	}
}

// QueryFetcher is the part of *client.Client a Fetcher needs.
type QueryFetcher interface {
	Fetch(ctx context.Context, q client.Query) (string, error)
}

// Result is the outcome of one query.
type Result struct {
	Index int
	Query client.Query
	Body  string
	Err   error

	done bool
}

// Fetcher runs queries through a worker pool.
type Fetcher struct {
	fetcher QueryFetcher
	config  Config
	logger  zerolog.Logger
}

// NewFetcher creates a new batch fetcher
func NewFetcher(fetcher QueryFetcher, config Config, logger zerolog.Logger) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logger.With().Str("component", "batch").Logger(),
	}
}

// FetchAll runs every query and returns one Result per query, in input
// order. Per-query failures are reported in Result.Err. If ctx ends first,
// queries that never ran carry the context error and FetchAll returns it
// along with the partial results.
func (f *Fetcher) FetchAll(ctx context.Context, queries []client.Query) ([]Result, error) {
	results := make([]Result, len(queries))
	for i, q := range queries {
		results[i] = Result{Index: i, Query: q}
	}
	if len(queries) == 0 {
		return results, nil
	}

	start := time.Now()
	workers := min(f.config.MaxConcurrency, len(queries))

	f.logger.Debug().
		Int("queries", len(queries)).
		Int("workers", workers).
		Msg("Starting batch fetch")

	queue := make(chan int, len(queries))
	for i := range queries {
		queue <- i
	}
	close(queue)

	var (
		wg     sync.WaitGroup
		ran    atomic.Int64
		failed atomic.Int64
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			f.worker(ctx, workerID, queue, results, &ran, &failed)
		}(w)
	}
	wg.Wait()

	skipped := len(queries) - int(ran.Load())
	if skipped > 0 {
		for i := range results {
			if !results[i].done {
				results[i].Err = ctx.Err()
			}
		}
		f.logger.Warn().
			Int("completed", int(ran.Load())).
			Int("total", len(queries)).
			Msg("Batch fetch cancelled - returning partial results")
		return results, fmt.Errorf("batch cancelled (%d/%d queries ran): %w", ran.Load(), len(queries), ctx.Err())
	}

	f.logger.Info().
		Int("queries", len(queries)).
		Int64("failed", failed.Load()).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, nil
}

// worker processes queries from the queue
func (f *Fetcher) worker(ctx context.Context, workerID int, queue <-chan int, results []Result, ran, failed *atomic.Int64) {
	processed := 0

	for i := range queue {
		select {
		case <-ctx.Done():
			f.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		qctx := ctx
		cancel := func() {}
		if f.config.Timeout > 0 {
			qctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		}
		body, err := f.fetcher.Fetch(qctx, results[i].Query)
		cancel()

		results[i].Body = body
		results[i].Err = err
		results[i].done = true
		ran.Add(1)
		processed++

		if err != nil {
			failed.Add(1)
			f.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("index", i).
				Msg("Query failed")
		}
	}

	if processed > 0 {
		f.logger.Debug().
			Int("worker_id", workerID).
			Int("processed", processed).
			Msg("Worker completed")
	}
}
