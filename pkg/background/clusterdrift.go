package background

import "context"

// runClusterDriftChecker is C7's periodic CheckClusterInfo poll: for
// every healthy peer cluster, compare its reported leader endpoints
// against what this cluster last observed and repair the mismatch via
// DelReplicaRemoteOP/AddReplicaSimplyRemoteOP (spec §4.7).
func (s *Scheduler) runClusterDriftChecker(ctx context.Context) {
	tick(ctx, s.cfg.ClusterDriftInterval, s.coord.RemoteClusters.CheckClusterInfo)
}
