package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayActiveRooms tracks how many rooms currently have at least one
	// connected peer on this relay instance.
	RelayActiveRooms = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one connected peer",
		},
	)

	// RelayActiveConnections tracks total connected peer sockets across
	// every room on this relay instance.
	RelayActiveConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Number of currently connected peer sockets",
		},
	)

	// RelayFramesForwarded tracks opaque frames forwarded between peers,
	// broken down by outcome; the relay never inspects frame contents.
	RelayFramesForwarded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_forwarded_total",
			Help:      "Total number of opaque frames forwarded between peers sharing a room",
		},
		[]string{"outcome"}, // forwarded, dropped_no_peers, dropped_write_error
	)
)
