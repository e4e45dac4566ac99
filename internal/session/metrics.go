package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clockworklabs/stdb-core/internal/metrics"
)

var (
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_active_connections",
		Help: "the number of currently open WebSocket client sessions",
	}, metrics.DatabaseLabels)
	queueOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_queue_overflow_total",
		Help: "the number of client sessions closed for falling behind their bounded send queue",
	}, metrics.DatabaseLabels)
)
