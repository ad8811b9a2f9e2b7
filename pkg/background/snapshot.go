package background

import (
	"context"
	"time"

	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/types"
)

// runSnapshotCron is C9's SnapshotCron: once a day at cfg.MakeSnapshotTime,
// enqueue a MakeSnapshot op against every partition's current leader, the
// same OpMakeSnapshot the admin MakeSnapshotNS command enqueues by hand.
func (s *Scheduler) runSnapshotCron(ctx context.Context) {
	for {
		wait := s.untilNextSnapshot()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.makeSnapshots(ctx)
		}
	}
}

func (s *Scheduler) untilNextSnapshot() time.Duration {
	now := time.Now()
	target, err := time.ParseInLocation("15:04", s.cfg.MakeSnapshotTime, now.Location())
	if err != nil {
		s.logger.Warn().Err(err).Str("make_snapshot_time", s.cfg.MakeSnapshotTime).Msg("SnapshotCron: bad time, defaulting to 24h")
		return 24 * time.Hour
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (s *Scheduler) makeSnapshots(ctx context.Context) {
	tables := s.coord.Catalog.ListTables("")
	for _, db := range s.coord.Catalog.ListDatabases() {
		tables = append(tables, s.coord.Catalog.ListTables(db.Name)...)
	}
	for _, tbl := range tables {
		for _, tp := range tbl.TablePartition {
			leader := tp.Leader()
			if leader == nil {
				continue
			}
			payload := map[string]interface{}{"tid": tbl.Tid, "pid": tp.Pid, "leader": leader.Endpoint}
			o, err := s.coord.Engine.CreateOPData(ctx, types.OpMakeSnapshot, op.Payload(payload), tbl.Name, tbl.Db, tp.Pid, 0, 0)
			if err != nil {
				s.logger.Warn().Err(err).Str("table", tbl.Name).Int("pid", tp.Pid).Msg("SnapshotCron: create op failed")
				continue
			}
			s.coord.Engine.AddOPData(o)
		}
	}
	s.logger.Info().Msg("SnapshotCron: daily snapshot ops enqueued")
}
