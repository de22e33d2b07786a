package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_updates_applied_total",
		Help: "CRDT updates merged into room documents.",
	})

	UpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_updates_dropped_total",
		Help: "Inbound updates dropped before merge.",
	}, []string{"reason"})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_broadcasts_total",
		Help: "Update frames fanned out to room participants.",
	})

	SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_snapshot_saves_total",
		Help: "Snapshots durably written.",
	})

	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_snapshot_failures_total",
		Help: "Snapshot writes that failed and will be retried.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mosaic_active_connections",
		Help: "Currently connected websocket clients.",
	})
)
