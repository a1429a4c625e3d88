package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Doer sends a request. The gate wraps the redirect follower, so one
// admission covers a whole redirect chain.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gate admits requests under a parallel cap and a sliding-window rate cap.
// A request first takes a parallel slot, then a rate slot. The rate slot is
// returned Period after it was taken, whatever happens to the request.
// Waiters are not served in FIFO order.
type Gate struct {
	next     Doer
	budget   Budget
	parallel *semaphore.Weighted
	window   *semaphore.Weighted
	logger   zerolog.Logger

	inFlight   atomic.Int64
	windowUsed atomic.Int64
}

// NewGate creates a Gate in front of next.
func NewGate(next Doer, budget Budget, logger zerolog.Logger) (*Gate, error) {
	if next == nil {
		return nil, errors.New("next doer must not be nil")
	}
	if budget.MaxPerPeriod < 1 {
		return nil, fmt.Errorf("max per period must be at least 1, got %d", budget.MaxPerPeriod)
	}
	if budget.Period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", budget.Period)
	}

	budget = budget.normalize()

	return &Gate{
		next:     next,
		budget:   budget,
		parallel: semaphore.NewWeighted(int64(budget.MaxParallel)),
		window:   semaphore.NewWeighted(int64(budget.MaxPerPeriod)),
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}, nil
}

// Do waits for admission and forwards req. Both waits observe the request
// context; a request cancelled while waiting holds no slot afterwards.
func (g *Gate) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	start := time.Now()
	if err := g.parallel.Acquire(ctx, 1); err != nil {
		gateCancelledTotal.WithLabelValues("parallel").Inc()
		return nil, fmt.Errorf("wait for parallel slot: %w", err)
	}
	defer g.parallel.Release(1)
	gateWaitSeconds.WithLabelValues("parallel").Observe(time.Since(start).Seconds())

	g.inFlight.Add(1)
	gateInFlight.Inc()
	defer func() {
		g.inFlight.Add(-1)
		gateInFlight.Dec()
	}()

	start = time.Now()
	if err := g.window.Acquire(ctx, 1); err != nil {
		gateCancelledTotal.WithLabelValues("window").Inc()
		return nil, fmt.Errorf("wait for rate slot: %w", err)
	}
	waited := time.Since(start)
	gateWaitSeconds.WithLabelValues("window").Observe(waited.Seconds())

	g.windowUsed.Add(1)
	time.AfterFunc(g.budget.Period, g.releaseWindow)
	gateAdmissionsTotal.Inc()

	if waited > time.Second {
		g.logger.Debug().
			Dur("waited", waited).
			Str("url", req.URL.Redacted()).
			Msg("Request throttled by rate window")
	}

	return g.next.Do(req)
}

func (g *Gate) releaseWindow() {
	g.windowUsed.Add(-1)
	g.window.Release(1)
}

// Budget returns the effective budget after clamping.
func (g *Gate) Budget() Budget {
	return g.budget
}

// State returns a snapshot of current usage.
func (g *Gate) State() State {
	return State{
		Budget:     g.budget,
		InFlight:   int(g.inFlight.Load()),
		WindowUsed: int(g.windowUsed.Load()),
	}
}
