// Package metrics registers the prometheus instruments shared by the
// sync engine and the query handler. Exposition is left to whatever
// serves the default registry; this package only populates it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FullSyncsTotal counts completed full synchronization passes.
	FullSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clusterlens_full_syncs_total",
		Help: "Number of completed full cluster synchronization passes.",
	})

	// SyncErrorsTotal counts per-kind failures during full sync.
	SyncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterlens_sync_errors_total",
		Help: "Number of per-kind synchronization failures.",
	}, []string{"kind"})

	// WatchRestartsTotal counts watch stream reconnects.
	WatchRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterlens_watch_restarts_total",
		Help: "Number of watch stream reconnects, by resource kind.",
	}, []string{"kind"})

	// WatchEventsTotal counts applied incremental events.
	WatchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterlens_watch_events_total",
		Help: "Number of watch events applied to the graph.",
	}, []string{"kind", "type"})

	// GraphNodes reports the current graph node count.
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clusterlens_graph_nodes",
		Help: "Current number of resource nodes in the knowledge graph.",
	})

	// GraphEdges reports the current graph edge count.
	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clusterlens_graph_edges",
		Help: "Current number of relation edges in the knowledge graph.",
	})

	// QueriesTotal counts executed relation queries.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clusterlens_queries_total",
		Help: "Number of executed relation queries, by type and outcome.",
	}, []string{"type", "outcome"})

	// QueryDuration observes query execution latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clusterlens_query_duration_seconds",
		Help:    "Relation query execution latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)
