package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterActiveMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcluster_active_members",
			Help: "Number of members currently in the active set",
		},
	)

	r.ClusterMembersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcluster_members_total",
			Help: "Number of configured members",
		},
	)

	r.ClusterActivationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_activations_total",
			Help: "Member activation attempts",
		},
		[]string{"strategy", "result"}, // success, error, not_alive
	)

	r.ClusterActivationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcluster_activation_duration_seconds",
			Help:    "Duration of member activations including synchronization",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"strategy"},
	)

	r.ClusterDeactivationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_deactivations_total",
			Help: "Member deactivations by reason",
		},
		[]string{"reason"}, // operator, failure_detection, fanout, remote
	)

	r.ClusterFailureDetectionRuns = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "dbcluster_failure_detection_runs_total",
			Help: "Completed failure detection sweeps",
		},
	)

	r.ClusterLivenessProbesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcluster_liveness_probes_total",
			Help: "Liveness probes by result",
		},
		[]string{"result"}, // alive, dead
	)
}
