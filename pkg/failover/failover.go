// Package failover is the C6 Failover Controller: it reacts to tablet
// Offline/Online transitions (pkg/tablet's OnOffline/OnOnline hooks)
// by flipping partition_meta liveness and enqueueing the right OP
// against the OP Engine (pkg/op), the same callback-into-mutex-owning-
// component shape the teacher's reconciler uses against its manager.
package failover

import (
	"context"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

// OFFLINE_LEADER_ENDPOINT, per spec §4.6's restore mode.
const OfflineLeaderEndpoint = types.OfflineLeaderEndpoint

// AutoFailoverSource reports whether auto-failover is currently enabled
// (ConfSet/ConfGet only expose this one key, spec §6).
type AutoFailoverSource interface {
	AutoFailoverEnabled() bool
}

// Controller wires tablet membership events to OP creation.
type Controller struct {
	cat     *catalog.Catalog
	engine  *op.Engine
	config  AutoFailoverSource
	logger  zerolog.Logger
}

func New(cat *catalog.Catalog, engine *op.Engine, config AutoFailoverSource) *Controller {
	return &Controller{cat: cat, engine: engine, config: config, logger: log.WithComponent("failover")}
}

// OnTabletOffline reacts to a tablet crossing into Offline after
// heartbeat_timeout (pkg/tablet.Registry.OnOffline).
func (c *Controller) OnTabletOffline(endpoint string) {
	if !c.config.AutoFailoverEnabled() {
		return
	}
	ctx := context.Background()

	for _, tbl := range c.cat.ListTables("") {
		c.reactOffline(ctx, tbl, endpoint)
	}
}

func (c *Controller) reactOffline(ctx context.Context, tbl *types.Table, endpoint string) {
	for i := range tbl.TablePartition {
		tp := &tbl.TablePartition[i]
		if !tp.HasEndpoint(endpoint) {
			continue
		}

		alive := tp.AliveReplicas()
		wasSole := len(alive) == 1 && alive[0].Endpoint == endpoint
		wasLeader := false
		anyAliveLeader := false
		for _, pm := range tp.PartitionMeta {
			if pm.Endpoint == endpoint && pm.IsLeader {
				wasLeader = true
			}
			if pm.IsLeader && pm.IsAlive && pm.Endpoint != endpoint {
				anyAliveLeader = true
			}
		}

		c.flipAlive(tp, endpoint, wasSole)

		switch {
		case wasSole:
			c.enqueueUpdatePartitionStatus(ctx, tbl, tp.Pid, endpoint, false)
		case wasLeader || !anyAliveLeader:
			c.enqueueChangeLeader(ctx, tbl, tp.Pid)
		default:
			c.enqueueOfflineReplica(ctx, tbl, tp, endpoint)
		}
	}
}

// flipAlive implements UpdateEndpointTableAlive: it refuses to flip the
// sole remaining alive replica, to avoid making a partition permanently
// unreadable.
func (c *Controller) flipAlive(tp *types.TablePartition, endpoint string, soleReplica bool) {
	if soleReplica {
		return
	}
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint == endpoint {
			tp.PartitionMeta[i].IsAlive = false
		}
	}
}

// OnTabletOnline reacts to a tablet returning to Healthy.
func (c *Controller) OnTabletOnline(endpoint string) {
	if !c.config.AutoFailoverEnabled() {
		return
	}
	ctx := context.Background()
	for _, tbl := range c.cat.ListTables("") {
		for i := range tbl.TablePartition {
			tp := &tbl.TablePartition[i]
			for _, pm := range tp.PartitionMeta {
				if pm.Endpoint == endpoint && !pm.IsAlive {
					c.enqueueRecoverTable(ctx, tbl, tp.Pid, endpoint, false)
				}
			}
		}
	}
}

// RestoreEndpoint implements admin-requested restore mode: ChangeLeader
// then RecoverTable with the synthetic OFFLINE_LEADER_ENDPOINT token.
func (c *Controller) RestoreEndpoint(ctx context.Context, db, name string, pid int, endpoint string) error {
	tbl, err := c.cat.GetTable(db, name)
	if err != nil {
		return err
	}
	c.enqueueChangeLeader(ctx, tbl, pid)
	c.enqueueRecoverTable(ctx, tbl, pid, endpoint, true)
	return nil
}

func (c *Controller) enqueueChangeLeader(ctx context.Context, tbl *types.Table, pid int) {
	op, err := c.engine.CreateOPData(ctx, types.OpChangeLeader, opPayload(tbl, pid, nil), tbl.Name, tbl.Db, pid, 0, 0)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to create ChangeLeader op")
		return
	}
	c.engine.AddOPData(op)
}

func (c *Controller) enqueueOfflineReplica(ctx context.Context, tbl *types.Table, tp *types.TablePartition, endpoint string) {
	leader := tp.Leader()
	// alive:false so the UpdatePartitionStatus leg marks the offline
	// follower dead instead of compUpdatePartitionStatus's default-true.
	payload := op.Payload{"follower": endpoint, "alive": false}
	if leader != nil {
		payload["leader"] = leader.Endpoint
	}
	o, err := c.engine.CreateOPData(ctx, types.OpOfflineReplica, payload, tbl.Name, tbl.Db, tp.Pid, 0, 0)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to create OfflineReplica op")
		return
	}
	c.engine.AddOPData(o)
}

func (c *Controller) enqueueUpdatePartitionStatus(ctx context.Context, tbl *types.Table, pid int, endpoint string, alive bool) {
	o, err := c.engine.CreateOPData(ctx, types.OpUpdatePartitionStatus, op.Payload{"endpoint": endpoint, "alive": alive}, tbl.Name, tbl.Db, pid, 0, 0)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to create UpdatePartitionStatus op")
		return
	}
	c.engine.AddOPData(o)
}

func (c *Controller) enqueueRecoverTable(ctx context.Context, tbl *types.Table, pid int, endpoint string, restore bool) {
	o, err := c.engine.CreateOPData(ctx, types.OpRecoverTable, op.Payload{"endpoint": endpoint, "need_restore": restore}, tbl.Name, tbl.Db, pid, 0, 0)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to create RecoverTable op")
		return
	}
	c.engine.AddOPData(o)
}

func opPayload(tbl *types.Table, pid int, extra map[string]interface{}) op.Payload {
	p := op.Payload{"tid": tbl.Tid, "pid": pid}
	for k, v := range extra {
		p[k] = v
	}
	return p
}
