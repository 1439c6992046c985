package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ControllerState mirrors the controller's current state as a label set gauge
	ControllerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "state",
			Help:      "Current sync controller state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"}, // idle, awaiting_reentry, connecting, connected
	)

	// ControllerInitializations tracks Initialize calls, deduplicated by singleflight
	ControllerInitializations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "initializations_total",
			Help:      "Total number of controller Initialize calls, including singleflight-deduplicated ones",
		},
		[]string{"status"}, // success, failure
	)

	// ControllerCredentialReencrypts tracks credential vault re-encryption calls
	ControllerCredentialReencrypts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "credential_reencrypts_total",
			Help:      "Total number of credential vault re-encryption attempts triggered by sync enable or disable",
		},
		[]string{"status"}, // success, failure
	)
)
