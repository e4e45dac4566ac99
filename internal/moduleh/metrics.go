package moduleh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clockworklabs/stdb-core/internal/metrics"
)

var (
	dispatchQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moduleh_dispatch_queue_depth",
		Help: "the number of reducer calls currently queued for a database's executor",
	}, metrics.DatabaseLabels)
	dispatchDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moduleh_dispatch_duration_seconds",
		Help:    "the length of time a reducer call spent executing, from invoke to commit or abort",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ReducerLabels)
	dispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moduleh_dispatch_errors_total",
		Help: "the number of reducer calls that returned an error or were aborted",
	}, metrics.ReducerLabels)
	energyUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moduleh_energy_used",
		Help:    "energy units consumed per reducer call",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, metrics.ReducerLabels)
)
