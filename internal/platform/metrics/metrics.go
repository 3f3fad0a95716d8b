// Package metrics registers the Prometheus instruments for the permission
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PermissionsCreated   prometheus.Counter
	Transitions          *prometheus.CounterVec
	TransitionFailures   *prometheus.CounterVec
	DocumentsAssembled   prometheus.Counter
	AssemblyFailures     prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	RequestLatency       *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		PermissionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_permissions_created_total",
			Help: "Total number of permission requests created.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridgrant_transitions_total",
			Help: "Successful lifecycle transitions by resulting status.",
		}, []string{"status"}),
		TransitionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridgrant_transition_failures_total",
			Help: "Rejected lifecycle transitions by error kind.",
		}, []string{"kind"}),
		DocumentsAssembled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_documents_assembled_total",
			Help: "Market document envelopes emitted.",
		}),
		AssemblyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_document_assembly_failures_total",
			Help: "Hard document-assembly failures.",
		}),
		DuplicatesSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridgrant_duplicate_events_suppressed_total",
			Help: "Redelivered events suppressed by the dedup store.",
		}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridgrant_http_request_duration_seconds",
			Help:    "Front door request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}
