// Package metrics holds the service's prometheus collectors, registered on
// the default registry and exposed via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanovideo_cache_hits_total",
		Help: "Download requests served from an existing complete cache entry.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanovideo_cache_misses_total",
		Help: "Download requests that required coordination with the extractor.",
	})

	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanovideo_extractions_total",
		Help: "Completed extractor runs by outcome.",
	}, []string{"outcome"})

	FetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nanovideo_fetches_in_flight",
		Help: "Downloads currently being led through the extractor.",
	})

	BytesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanovideo_bytes_served_total",
		Help: "Bytes of cached media streamed to clients.",
	})

	StreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nanovideo_stream_failures_total",
		Help: "Streams aborted because the cached file vanished or was truncated mid-response.",
	})
)
