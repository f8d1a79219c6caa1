package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initLockMetrics() {
	r.LockVotesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_lock_votes_total",
			Help: "Distributed lock vote rounds by outcome",
		},
		[]string{"result"}, // committed, rejected, timeout
	)

	r.LockWait = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcluster_lock_wait_seconds",
			Help:    "Time spent acquiring locks",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"mode"}, // read, write
	)
}

func (r *Registry) initGroupMetrics() {
	r.GroupMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_group_messages_total",
			Help: "Group messages sent and received",
		},
		[]string{"direction", "type"},
	)

	r.GroupMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcluster_group_members",
			Help: "Middleware instances in the current group view",
		},
	)
}
