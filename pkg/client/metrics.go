package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yf_requests_total",
		Help: "Total upstream requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yf_request_duration_seconds",
		Help:    "Upstream request duration in seconds by host, throttle wait included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yf_errors_total",
		Help: "Total failed sends by error class",
	}, []string{"class"})

	cacheServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yf_cache_served_total",
		Help: "Total sends answered from the response cache without touching the network",
	})
)
