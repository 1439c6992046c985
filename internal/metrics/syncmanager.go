package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncConnectAttempts tracks connect/reconnect attempts to the relay
	SyncConnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncmanager",
			Name:      "connect_attempts_total",
			Help:      "Total number of attempts to connect to the relay",
		},
		[]string{"status"}, // success, failure
	)

	// SyncPeersConnected tracks the current number of connected peers
	SyncPeersConnected = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "syncmanager",
			Name:      "peers_connected",
			Help:      "Number of peers currently sharing this room",
		},
	)

	// SyncFramesDropped tracks frames dropped by the fail-closed transport
	SyncFramesDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "syncmanager",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped because decryption or authentication failed",
		},
		[]string{"reason"}, // decrypt_failed, malformed
	)

	// SyncMessageBytes tracks encrypted frame size on the wire
	SyncMessageBytes = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "syncmanager",
			Name:      "message_bytes",
			Help:      "Size of encrypted frames sent or received over the relay connection",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // inbound, outbound
	)

	// SyncKDFDuration tracks room/key derivation timing
	SyncKDFDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "syncmanager",
			Name:      "kdf_duration_seconds",
			Help:      "Duration of PBKDF2 room name and key derivation",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5.1s
		},
	)
)
