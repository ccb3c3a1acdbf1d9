package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "busboard"

// Metrics groups the hub and gate collectors. Each instance registers on its
// own Registerer so tests can use a fresh prometheus.NewRegistry().
type Metrics struct {
	ActiveConnections prometheus.Gauge
	PatchesApplied    prometheus.Counter
	MalformedFields   *prometheus.CounterVec
	SnapshotsSent     *prometheus.CounterVec
	DeliveriesDropped prometheus.Counter
	RateLimited       prometheus.Counter
	GateRejections    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Connections currently in the Active state.",
		}),
		PatchesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "patches_applied_total",
			Help:      "Patches merged into the shared state.",
		}),
		MalformedFields: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "malformed_fields_total",
			Help:      "Patch fields skipped because they could not be decoded.",
		}, []string{"field"}),
		SnapshotsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "snapshots_sent_total",
			Help:      "Snapshots enqueued to connections, by message type.",
		}, []string{"type"}),
		DeliveriesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_dropped_total",
			Help:      "Snapshots that could not be enqueued to a recipient.",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "patches_rate_limited_total",
			Help:      "Patches dropped by the per-connection rate limit.",
		}),
		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "rejections_total",
			Help:      "Authorization failures, by stage.",
		}, []string{"stage"}),
	}
}
