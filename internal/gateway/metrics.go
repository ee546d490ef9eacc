package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "gateway",
		Name:      "scans_total",
		Help:      "Scans performed by the dispatch gateway, by stage and decision.",
	}, []string{"stage", "decision"})

	blockedCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "gateway",
		Name:      "blocked_calls_total",
		Help:      "Tool calls refused at the argument-scan stage.",
	})

	sanitizedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "gateway",
		Name:      "sanitized_units_total",
		Help:      "Response text units rewritten by the sanitizer.",
	})

	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bastion",
		Subsystem: "gateway",
		Name:      "scan_duration_seconds",
		Help:      "Latency of a single scan pass.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
)
