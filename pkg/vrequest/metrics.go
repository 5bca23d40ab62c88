package vrequest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrequest_dispatched_total",
		Help: "Total requests submitted through the manager by method",
	}, []string{"method"})

	decodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrequest_decode_failures_total",
		Help: "Total response payloads that could not be decoded into the target type",
	})
)
