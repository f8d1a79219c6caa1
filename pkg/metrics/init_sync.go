package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSyncMetrics() {
	r.SyncDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcluster_sync_duration_seconds",
			Help:    "Duration of synchronization runs",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"strategy", "result"},
	)

	r.SyncRowsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_sync_rows_total",
			Help: "Rows written to targets during synchronization",
		},
		[]string{"operation"}, // insert, update, delete
	)
}

func (r *Registry) initFanoutMetrics() {
	r.FanoutOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_fanout_operations_total",
			Help: "Operations executed against the active set",
		},
		[]string{"result"}, // success, error, no_members
	)

	r.FanoutMemberFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_fanout_member_failures_total",
			Help: "Per-member failures during fan-out",
		},
		[]string{"outcome"}, // deactivated, propagated
	)
}
