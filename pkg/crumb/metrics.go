package crumb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bootstrapTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yf_crumb_bootstrap_total",
		Help: "Total crumb bootstraps by outcome (success, auth_failed, crumb_failed, error)",
	}, []string{"outcome"})

	bootstrapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yf_crumb_bootstrap_duration_seconds",
		Help:    "Duration of crumb bootstraps including throttle waits",
		Buckets: prometheus.DefBuckets,
	})

	bootstrapSharedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yf_crumb_bootstrap_shared_total",
		Help: "Total callers that received a bootstrap result shared with concurrent callers",
	})
)
