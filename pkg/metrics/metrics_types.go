package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the cluster middleware
type Registry struct {
	// Cluster Metrics
	ClusterActiveMembers        prometheus.Gauge
	ClusterMembersTotal         prometheus.Gauge
	ClusterActivationsTotal     *prometheus.CounterVec
	ClusterActivationDuration   *prometheus.HistogramVec
	ClusterDeactivationsTotal   *prometheus.CounterVec
	ClusterFailureDetectionRuns prometheus.Counter
	ClusterLivenessProbesTotal  *prometheus.CounterVec

	// Synchronization Metrics
	SyncDuration  *prometheus.HistogramVec
	SyncRowsTotal *prometheus.CounterVec

	// Fan-out Metrics
	FanoutOperationsTotal     *prometheus.CounterVec
	FanoutMemberFailuresTotal *prometheus.CounterVec

	// Lock Metrics
	LockVotesTotal *prometheus.CounterVec
	LockWait       *prometheus.HistogramVec

	// Group Metrics
	GroupMessagesTotal *prometheus.CounterVec
	GroupMembers       prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initClusterMetrics()
	r.initSyncMetrics()
	r.initFanoutMetrics()
	r.initLockMetrics()
	r.initGroupMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// OrDefault returns r, or the global registry when r is nil.
func OrDefault(r *Registry) *Registry {
	if r == nil {
		return DefaultRegistry()
	}
	return r
}
