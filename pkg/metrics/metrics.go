package metrics

import (
	"time"
)

// RecordActivation records a member activation attempt
func (r *Registry) RecordActivation(strategy, result string, duration time.Duration) {
	r.ClusterActivationsTotal.WithLabelValues(strategy, result).Inc()
	r.ClusterActivationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordDeactivation records a member leaving the active set
func (r *Registry) RecordDeactivation(reason string) {
	r.ClusterDeactivationsTotal.WithLabelValues(reason).Inc()
}

// RecordProbe records a liveness probe result
func (r *Registry) RecordProbe(alive bool) {
	if alive {
		r.ClusterLivenessProbesTotal.WithLabelValues("alive").Inc()
		return
	}
	r.ClusterLivenessProbesTotal.WithLabelValues("dead").Inc()
}

// RecordFailureDetection counts a completed failure detection sweep
func (r *Registry) RecordFailureDetection() {
	r.ClusterFailureDetectionRuns.Inc()
}

// UpdateMembership updates the member gauges
func (r *Registry) UpdateMembership(active, total int) {
	r.ClusterActiveMembers.Set(float64(active))
	r.ClusterMembersTotal.Set(float64(total))
}

// RecordSync records a synchronization run
func (r *Registry) RecordSync(strategy string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.SyncDuration.WithLabelValues(strategy, result).Observe(duration.Seconds())
}

// RecordSyncRows adds rows written by a synchronization
func (r *Registry) RecordSyncRows(inserted, updated, deleted int) {
	r.SyncRowsTotal.WithLabelValues("insert").Add(float64(inserted))
	r.SyncRowsTotal.WithLabelValues("update").Add(float64(updated))
	r.SyncRowsTotal.WithLabelValues("delete").Add(float64(deleted))
}

// RecordFanout records the outcome of an operation against the active set
func (r *Registry) RecordFanout(result string) {
	r.FanoutOperationsTotal.WithLabelValues(result).Inc()
}

// RecordFanoutFailure records how a single member failure was handled
func (r *Registry) RecordFanoutFailure(outcome string) {
	r.FanoutMemberFailuresTotal.WithLabelValues(outcome).Inc()
}

// RecordLockWait records time spent waiting for a lock
func (r *Registry) RecordLockWait(write bool, d time.Duration) {
	mode := "read"
	if write {
		mode = "write"
	}
	r.LockWait.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordVote records a distributed lock vote round
func (r *Registry) RecordVote(result string) {
	r.LockVotesTotal.WithLabelValues(result).Inc()
}

// RecordGroupMessage counts a sent or received group message
func (r *Registry) RecordGroupMessage(direction, msgType string) {
	r.GroupMessagesTotal.WithLabelValues(direction, msgType).Inc()
}
