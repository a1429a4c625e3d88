package cookies

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cookiesStored tracks the number of cookies held by the most recently
	// updated store.
	cookiesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yf_cookies_stored",
		Help: "Number of cookies currently held in the cookie store",
	})

	// cookieDeletionsTotal counts cookies removed by expiry or deletion markers.
	cookieDeletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yf_cookie_deletions_total",
		Help: "Total number of cookies removed from the cookie store",
	})
)
