package background

import "context"

// runRealEpMapPusher is C9's RealEpMap pusher: periodically push the
// aggregate of this zone's real_ep_map plus every replica cluster's
// reported real_ep_map out to every Healthy tablet, so name-indirection
// resolution (pkg/nameresolve) stays converged across clusters.
func (s *Scheduler) runRealEpMapPusher(ctx context.Context) {
	tick(ctx, s.cfg.RealEpMapInterval, s.pushRealEpMap)
}

func (s *Scheduler) pushRealEpMap(ctx context.Context) {
	peers := s.coord.RemoteClusters.List()
	maps := make([]map[string]string, 0, len(peers))
	for _, p := range peers {
		if len(p.RemoteRealEpMap) > 0 {
			maps = append(maps, p.RemoteRealEpMap)
		}
	}
	s.coord.Tablets.PushRealEndpointMap(ctx, maps...)
}
