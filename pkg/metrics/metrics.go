// Package metrics holds the Prometheus collectors shared by the store's
// components. Each subsystem updates its own collectors directly rather
// than routing through a facade, the same way the rest of the ecosystem
// uses promauto-registered package globals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpsTotal counts completed operations by kind ("read", "upsert",
	// "rmw") and outcome (the status.Status string).
	OpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasterkv_ops_total",
			Help: "Total number of completed operations by kind and result",
		},
		[]string{"kind", "result"},
	)

	// PendingOps tracks operations currently parked on a session's
	// pending list, waiting for a boundary move or device completion.
	PendingOps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fasterkv_pending_ops",
			Help: "Number of operations currently parked across all sessions",
		},
	)

	// CurrentEpoch mirrors the epoch manager's global counter.
	CurrentEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fasterkv_epoch_current",
			Help: "Current global epoch",
		},
	)

	// DeferredDrained counts deferred actions executed by refresh.
	DeferredDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fasterkv_deferred_actions_drained_total",
			Help: "Total number of deferred actions that have run",
		},
	)

	// LogLiveBytes tracks tail-head, the live (unreclaimed) span of the
	// record log.
	LogLiveBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fasterkv_log_live_bytes",
			Help: "Bytes between head and tail in the record log",
		},
	)

	// PagesRecycled counts record-log pages returned to the page pool
	// once head has moved past them.
	PagesRecycled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fasterkv_log_pages_recycled_total",
			Help: "Total number of record-log pages returned to the pool",
		},
	)

	// ResizesTotal counts completed hash-table resizes by direction
	// ("grow" or "shrink").
	ResizesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasterkv_resizes_total",
			Help: "Total number of completed hash-table resizes",
		},
		[]string{"direction"},
	)

	// BucketsSplit counts individual buckets split (helped or not)
	// during resize.
	BucketsSplit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fasterkv_buckets_split_total",
			Help: "Total number of hash buckets split during a resize",
		},
	)

	// Sessions tracks the number of currently active sessions.
	Sessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fasterkv_sessions_active",
			Help: "Number of currently active sessions",
		},
	)
)
