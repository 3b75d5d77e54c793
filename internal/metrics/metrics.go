// Package metrics exposes Prometheus collectors for the WorkMesh
// controller. Scrape via the /metrics endpoint on the API router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegisteredWorkers tracks the current size of the worker set.
	RegisteredWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workmesh_registered_workers",
		Help: "Number of workers currently registered with the controller.",
	})

	// Registrations counts registration calls, including re-registrations.
	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmesh_registrations_total",
		Help: "Total worker registration calls accepted.",
	})

	// Heartbeats counts heartbeat calls by outcome (ok, unknown).
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workmesh_heartbeats_total",
		Help: "Total heartbeat calls by outcome.",
	}, []string{"outcome"})

	// Routes counts routing lookups by outcome (hit, miss).
	Routes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workmesh_routes_total",
		Help: "Total routing lookups by outcome.",
	}, []string{"outcome"})

	// RouteLatency observes routing lookup latency.
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "workmesh_route_latency_seconds",
		Help:    "Routing lookup latency.",
		Buckets: prometheus.DefBuckets,
	})

	// StaleEvictions counts workers removed by staleness cleanup.
	StaleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmesh_stale_evictions_total",
		Help: "Total workers evicted for missing their liveness window.",
	})

	// PersistFailures counts failed registry log writes. In-memory state
	// stays authoritative for the process lifetime when this grows.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workmesh_persist_failures_total",
		Help: "Total failed writes of the registry state log.",
	})
)
