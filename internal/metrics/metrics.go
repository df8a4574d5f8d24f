// Package metrics exposes Prometheus collectors for the thumbnail service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScrapesTotal tracks top-level scrape outcomes: thumbnail, none,
	// timeout, or error.
	ScrapesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbfinder_scrapes_total",
		Help: "The total number of thumbnail scrapes, labeled by outcome.",
	}, []string{"outcome"})

	// OutboundRequestsTotal tracks HTTP requests issued by the fetch layer.
	OutboundRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbfinder_outbound_requests_total",
		Help: "The total number of outbound HTTP requests, labeled by kind (page, stream).",
	}, []string{"kind"})

	// UnsafeURLsTotal tracks URLs rejected by the safety validator before
	// any network call.
	UnsafeURLsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbfinder_unsafe_urls_total",
		Help: "The total number of URLs rejected as unsafe to dereference.",
	})

	// ProbeBytesRead observes how many bytes each image size probe consumed
	// before reporting dimensions or giving up.
	ProbeBytesRead = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thumbfinder_probe_bytes_read",
		Help:    "Histogram of bytes read per image dimension probe.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 6),
	})

	// CacheHitsTotal tracks memoization hits, labeled by cache name.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbfinder_cache_hits_total",
		Help: "The total number of memoization cache hits, labeled by cache.",
	}, []string{"cache"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests, labeled by method and code.",
	}, []string{"method", "code"})

	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Histogram of HTTP request latencies, labeled by method and route.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"})
)

// ObserveHTTPRequest records metrics for a served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
