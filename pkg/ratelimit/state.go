// Package ratelimit implements admission control for outbound requests.
// Two limits apply at once: a cap on requests in flight and a cap on
// admissions within any rolling period.
package ratelimit

import (
	"time"
)

// Production limits observed to keep the upstream from rejecting the client.
const (
	DefaultMaxPerPeriod = 40
	DefaultPeriod       = time.Minute
	DefaultMaxParallel  = 4
)

// Budget is the admission budget of a Gate.
type Budget struct {
	// MaxPerPeriod is the number of admissions allowed in any window of Period.
	MaxPerPeriod int `json:"max_per_period"`

	// Period is the length of the sliding window.
	Period time.Duration `json:"period"`

	// MaxParallel is the number of requests allowed in flight at once.
	// Zero, negative or larger than MaxPerPeriod means MaxPerPeriod.
	MaxParallel int `json:"max_parallel"`
}

// DefaultBudget returns the production budget.
func DefaultBudget() Budget {
	return Budget{
		MaxPerPeriod: DefaultMaxPerPeriod,
		Period:       DefaultPeriod,
		MaxParallel:  DefaultMaxParallel,
	}
}

// normalize clamps MaxParallel into (0, MaxPerPeriod].
func (b Budget) normalize() Budget {
	if b.MaxParallel <= 0 || b.MaxParallel > b.MaxPerPeriod {
		b.MaxParallel = b.MaxPerPeriod
	}
	return b
}

// State is a point-in-time view of a Gate.
type State struct {
	Budget Budget `json:"budget"`

	// InFlight is the number of admitted requests not yet finished.
	InFlight int `json:"in_flight"`

	// WindowUsed is the number of admissions whose rate slot has not been
	// released yet.
	WindowUsed int `json:"window_used"`
}

// WindowRemaining returns the number of admissions available right now.
func (s State) WindowRemaining() int {
	n := s.Budget.MaxPerPeriod - s.WindowUsed
	if n < 0 {
		return 0
	}
	return n
}

// IsSaturated reports whether the next request would have to wait.
func (s State) IsSaturated() bool {
	return s.InFlight >= s.Budget.MaxParallel || s.WindowRemaining() == 0
}
