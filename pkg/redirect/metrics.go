package redirect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yf_redirects_total",
		Help: "Total redirects followed by route (consent, collect_consent, copy_consent, generic)",
	}, []string{"route"})

	redirectExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yf_redirect_exhausted_total",
		Help: "Total redirect chains that exceeded the hop limit",
	})
)
