// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdentifyTotal tracks identify calls by merge scenario and result
	IdentifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "identify_total",
			Help:      "Total number of identify calls by scenario and result",
		},
		[]string{"scenario", "result"},
	)

	// IdentifyDuration tracks end to end identify latency including retries
	IdentifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "identify_duration_seconds",
			Help:      "Duration of identify calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"scenario"},
	)

	// ContactsCreatedTotal tracks inserted contacts by link precedence
	ContactsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "contacts_created_total",
			Help:      "Total number of contacts inserted by link precedence",
		},
		[]string{"link_precedence"},
	)

	// MergesTotal tracks primaries demoted by a split merge
	MergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "merges_total",
			Help:      "Total number of clusters merged into an older primary",
		},
	)

	// TxRetriesTotal tracks units of work retried after a serialization failure
	TxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "store",
			Name:      "tx_retries_total",
			Help:      "Total number of transaction retries by store driver",
		},
		[]string{"driver"},
	)

	// LockWaitDuration tracks time spent acquiring distributed identifier locks
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "lock",
			Name:      "wait_duration_seconds",
			Help:      "Time spent acquiring identifier locks in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// EventsPublishedTotal tracks contact event publishing by type and status
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of contact events published by type and status",
		},
		[]string{"event_type", "status"},
	)

	// GraphSyncTotal tracks cluster mirror writes by status
	GraphSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "sync_total",
			Help:      "Total number of cluster graph syncs by status",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal tracks inbound API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)

// Result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
