package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrequest_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrequest_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// CacheSize is the number of bytes written to the cache
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vrequest_cache_size_bytes",
		Help: "Bytes written to the response cache",
	})

	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrequest_cache_not_modified_total",
		Help: "Total number of 304 Not Modified responses served from cache",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrequest_cache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete"
)
