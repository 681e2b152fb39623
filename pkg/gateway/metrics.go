package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "neurald",
		Name:      "sessions_active",
		Help:      "Number of live executor sessions.",
	})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurald",
		Name:      "messages_total",
		Help:      "Envelopes processed, by direction.",
	}, []string{"direction"})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurald",
		Name:      "actions_total",
		Help:      "Dispatched actions, by command and outcome.",
	}, []string{"command", "outcome"})
	metricActionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "neurald",
		Name:      "action_duration_seconds",
		Help:      "Wall time from dispatch to correlated result.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	metricProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurald",
		Name:      "protocol_violations_total",
		Help:      "Inbound envelopes that errored a session.",
	})
	metricSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurald",
		Name:      "snapshots_total",
		Help:      "Snapshot requests, by outcome.",
	}, []string{"outcome"})
)
