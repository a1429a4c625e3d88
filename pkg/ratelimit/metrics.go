package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yf_ratelimit_in_flight",
		Help: "Number of requests currently holding a parallel slot",
	})

	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yf_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a slot (parallel, window)",
		Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 120},
	}, []string{"slot"})

	gateAdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yf_ratelimit_admissions_total",
		Help: "Total requests admitted by the gate",
	})

	gateCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yf_ratelimit_cancelled_total",
		Help: "Total requests cancelled while waiting for a slot (parallel, window)",
	}, []string{"slot"})
)
