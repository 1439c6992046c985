package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CRDTUpdatesApplied tracks local and remote updates applied to documents
	CRDTUpdatesApplied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "updates_applied_total",
			Help:      "Total number of CRDT updates applied to a document",
		},
		[]string{"origin"}, // local, remote
	)

	// CRDTMergesDropped tracks updates rejected by Lamport tie-break
	CRDTMergesDropped = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "merges_dropped_total",
			Help:      "Total number of incoming updates dropped because the existing value already won the tie-break",
		},
	)

	// CRDTEncodeDuration tracks state vector and update encode/decode timings
	CRDTEncodeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "encode_duration_seconds",
			Help:      "Duration of CRDT state vector and update encode/decode operations",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10us to 163ms
		},
		[]string{"operation"}, // state_vector, encode_update, decode_update
	)

	// CRDTDocumentSize tracks serialized document size
	CRDTDocumentSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "document_size_bytes",
			Help:      "Size of the encoded document state",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)
