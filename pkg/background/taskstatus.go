package background

import (
	"context"
	"time"

	"github.com/cuemby/tablestore/pkg/types"
)

// runTaskStatusPoller is C9's TaskStatusPoller (period T1): every
// Doing task only ever advances through here, since task.Run leaves a
// successfully-sent RPC Doing rather than polling for completion
// itself (pkg/task/primitives.go's Run). Grouping by endpoint lets one
// GetTaskStatus call resolve every in-flight task against that tablet
// instead of one RPC per task.
func (s *Scheduler) runTaskStatusPoller(ctx context.Context) {
	tick(ctx, s.cfg.TaskStatusInterval, s.pollTaskStatus)
}

func (s *Scheduler) pollTaskStatus(ctx context.Context) {
	inFlight := s.coord.Engine.InFlight()
	if len(inFlight) == 0 {
		return
	}

	byEndpoint := make(map[string][]uint64)
	for _, t := range inFlight {
		byEndpoint[t.Endpoint] = append(byEndpoint[t.Endpoint], t.OpID)
	}

	healthy := make(map[string]bool)
	for _, t := range s.coord.Tablets.List() {
		if t.State == types.TabletHealthy {
			healthy[t.Endpoint] = true
		} else if time.Since(t.Ctime) > s.cfg.HeartbeatTimeout {
			// Offline long enough: force-fail rather than wait forever
			// for a tablet that may never come back (spec §4.9).
			for _, opID := range byEndpoint[t.Endpoint] {
				s.coord.Engine.ApplyTaskStatus(ctx, opID, types.StatusFailed)
			}
			delete(byEndpoint, t.Endpoint)
		}
	}

	dialer := s.coord.Dialer()
	if dialer == nil {
		return
	}
	for endpoint, opIDs := range byEndpoint {
		if !healthy[endpoint] {
			continue
		}
		client, err := dialer.Dial(endpoint)
		if err != nil {
			s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("TaskStatusPoller: dial failed")
			continue
		}
		statuses, err := client.GetTaskStatus(ctx, opIDs)
		if err != nil {
			s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("TaskStatusPoller: GetTaskStatus failed")
			continue
		}
		for opID, raw := range statuses {
			switch types.OpStatus(raw) {
			case types.StatusDone:
				s.coord.Engine.ApplyTaskStatus(ctx, opID, types.StatusDone)
			case types.StatusFailed, types.StatusCanceled:
				s.coord.Engine.ApplyTaskStatus(ctx, opID, types.StatusFailed)
			}
		}
	}
}
