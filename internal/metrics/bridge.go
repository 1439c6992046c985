package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BridgeWrites tracks upserts and deletes flowing through the bridge
	BridgeWrites = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "writes_total",
			Help:      "Total number of record writes processed by the sync bridge",
		},
		[]string{"direction", "kind"}, // direction: local, remote ; kind: crdt.Kind name
	)

	// BridgeRecentDeleteGuardTriggered tracks suppressed stale deletes
	BridgeRecentDeleteGuardTriggered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "recent_delete_guard_triggered_total",
			Help:      "Total number of remote deletes suppressed because a local record was written inside the recent-write window",
		},
	)

	// BridgeMergeDuration tracks startup merge timing
	BridgeMergeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "merge_duration_seconds",
			Help:      "Duration of bridge merge operations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"stage"}, // startup
	)

	// BridgeEchoSuppressed tracks reentrancy-flag based echo suppression
	BridgeEchoSuppressed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "echo_suppressed_total",
			Help:      "Total number of writes suppressed by the reentrancy guard to avoid observer echo loops",
		},
		[]string{"path"}, // remote_change, remote_preference
	)
)
