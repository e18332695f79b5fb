package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	asyncEnqueued *prometheus.CounterVec
	asyncFailed   *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		asyncEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_client",
			Name:      "async_writes_enqueued_total",
			Help:      "Async writes accepted into the executor.",
		}, []string{"shard"}),
		asyncFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_client",
			Name:      "async_writes_failed_total",
			Help:      "Async writes abandoned after their last attempt.",
		}, []string{"shard"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_client",
			Name:      "retries_total",
			Help:      "Synchronous calls sent again after a transient failure.",
		}, []string{"op"}),
	}
}
