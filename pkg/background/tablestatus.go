package background

import "context"

// runTableStatusAggregator is C9's TableStatusAggregator (period T2):
// GetTableStatus from every Healthy tablet that holds a replica, fold
// the result into that replica's PartitionMeta.
func (s *Scheduler) runTableStatusAggregator(ctx context.Context) {
	tick(ctx, s.cfg.TableStatusInterval, s.aggregateTableStatus)
}

func (s *Scheduler) aggregateTableStatus(ctx context.Context) {
	dialer := s.coord.Dialer()
	if dialer == nil {
		return
	}

	tables := s.coord.Catalog.ListTables("")
	for _, db := range s.coord.Catalog.ListDatabases() {
		tables = append(tables, s.coord.Catalog.ListTables(db.Name)...)
	}
	for _, tbl := range tables {
		for _, tp := range tbl.TablePartition {
			for _, pm := range tp.PartitionMeta {
				if !pm.IsAlive {
					continue
				}
				if _, ok := s.coord.Tablets.GetHealthy(pm.Endpoint); !ok {
					continue
				}
				client, err := dialer.Dial(pm.Endpoint)
				if err != nil {
					s.logger.Warn().Err(err).Str("endpoint", pm.Endpoint).Msg("TableStatusAggregator: dial failed")
					continue
				}
				st, err := client.GetTableStatus(ctx, tbl.Tid, tp.Pid)
				if err != nil {
					s.logger.Warn().Err(err).Str("endpoint", pm.Endpoint).Msg("TableStatusAggregator: GetTableStatus failed")
					continue
				}
				if err := s.coord.Catalog.UpdatePartitionStats(ctx, tbl.Db, tbl.Name, tp.Pid, pm.Endpoint, st); err != nil {
					s.logger.Warn().Err(err).Str("endpoint", pm.Endpoint).Msg("TableStatusAggregator: catalog update failed")
				}
			}
		}
	}
}
