package slack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "incidentresponder"

var (
	apiCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "slack",
			Name:      "api_calls_total",
			Help:      "Slack API calls by operation and outcome.",
		},
		[]string{"op", "result"},
	)

	dispatchMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "slack",
			Name:      "dispatch_misses_total",
			Help:      "Interaction payloads with no registered handler.",
		},
		[]string{"kind"},
	)
)

func recordAPICall(op, result string) {
	apiCallsTotal.WithLabelValues(op, result).Inc()
}

func recordDispatchMiss(kind string) {
	dispatchMissesTotal.WithLabelValues(kind).Inc()
}
