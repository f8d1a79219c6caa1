package health

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-dbcluster/pkg/member"
)

// Cluster is the view of a database cluster the checks need.
type Cluster interface {
	Members() []*member.Member
	ActiveMembers() []*member.Member
	Probe(ctx context.Context, memberID string) error
	AllowsEmpty() bool
}

// MemberCheck reports whether a member answers the liveness probe. An
// unreachable member degrades the instance rather than failing it, since
// the cluster keeps serving from the others.
func MemberCheck(c Cluster, memberID string) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "member:" + memberID,
			Details: map[string]any{"member": memberID},
		}
		if err := c.Probe(ctx, memberID); err != nil {
			check.Status = StatusDegraded
			check.Message = err.Error()
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Alive"
		return check
	}
}

// ClusterCheck reports the active set against the configured members.
func ClusterCheck(c Cluster) CheckFunc {
	return func(ctx context.Context) Check {
		active := member.IDs(c.ActiveMembers())
		total := len(c.Members())

		check := Check{
			Name: "cluster",
			Details: map[string]any{
				"active_members": active,
				"active":         len(active),
				"total":          total,
			},
		}

		switch {
		case len(active) == 0 && !c.AllowsEmpty():
			check.Status = StatusUnhealthy
			check.Message = "No active members"
		case len(active) < total:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d of %d members active", len(active), total)
		default:
			check.Status = StatusHealthy
			check.Message = "All members active"
		}
		return check
	}
}

// Register installs the cluster check for /health and /health/ready, one
// member check per configured member for /health, and an always healthy
// liveness check.
func Register(hc *HealthChecker, c Cluster) {
	hc.RegisterCheck("cluster", ClusterCheck(c))
	hc.RegisterReadinessCheck("cluster", ClusterCheck(c))
	for _, m := range c.Members() {
		hc.RegisterCheck("member:"+m.ID, MemberCheck(c, m.ID))
	}
	hc.RegisterLivenessCheck("process", func(context.Context) Check {
		return Check{Name: "process", Status: StatusHealthy}
	})
}
