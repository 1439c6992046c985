package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "syncroom"

// Registry holds every metric this binary exposes. Handlers (see server.go)
// collect from this registry rather than the global default so tests can
// spin up isolated instances.
var Registry = prometheus.NewRegistry()
