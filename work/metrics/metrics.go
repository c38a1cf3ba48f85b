package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExtractionAttempts counts every strategy run per provider. The "outcome"
// label distinguishes success from the failure taxonomy (unavailable,
// not_found, shape_changed).
var ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamvault_extraction_attempts_total",
	Help: "Number of extraction attempts",
}, []string{"provider", "outcome"})

// ExtractionDuration observes how long each strategy run takes per provider.
var ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "streamvault_extraction_duration_seconds",
	Help:    "Extraction latency",
	Buckets: prometheus.DefBuckets,
}, []string{"provider"})

// ProxyBytes counts bytes relayed to clients. The "kind" label separates
// rewritten playlists from binary segment passthrough.
var ProxyBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamvault_proxy_bytes_total",
	Help: "Total bytes proxied to clients",
}, []string{"kind"})

// ProxyRequests counts proxy fetches by result status class.
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamvault_proxy_requests_total",
	Help: "Number of proxied upstream fetches",
}, []string{"status"})

// ActiveProxyFetches tracks in-flight upstream fetches.
var ActiveProxyFetches = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "streamvault_proxy_active_fetches",
	Help: "Number of in-flight upstream fetches",
})

// RefererRetries counts 403 responses that triggered the no-Referer retry,
// by whether the retry recovered the fetch.
var RefererRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamvault_referer_retries_total",
	Help: "Number of no-Referer retries after a 403",
}, []string{"recovered"})

// ActiveSessions tracks live playback sessions.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "streamvault_active_sessions",
	Help: "Number of active playback sessions",
})

// PreloadResults counts settled preload attempts per provider and outcome.
var PreloadResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamvault_preload_results_total",
	Help: "Number of settled preload attempts",
}, []string{"provider", "outcome"})
