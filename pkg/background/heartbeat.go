package background

import (
	"context"

	"github.com/cuemby/tablestore/pkg/events"
)

// runHeartbeatChecker watches for MetaStore session resets (a Raft
// leadership churn bumping SessionTerm). Embedded's WatchChildren/
// WatchValue registrations are durable for the store's lifetime rather
// than torn down on disconnect (unlike a real ZooKeeper session), so
// there is nothing to re-arm here beyond what Embedded.handleLeadership
// already does internally; this loop's job is purely observability —
// surfacing how often the underlying consensus group is churning.
func (s *Scheduler) runHeartbeatChecker(ctx context.Context) {
	sub := s.coord.Broker().Subscribe()
	defer s.coord.Broker().Unsubscribe(sub)

	lastTerm := s.coord.Store().SessionTerm()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type != events.EventSessionReset {
				continue
			}
			term := s.coord.Store().SessionTerm()
			if term != lastTerm {
				s.logger.Warn().Uint64("session_term", term).Msg("metastore session term advanced")
				lastTerm = term
			}
		}
	}
}
