package background

import (
	"context"
	"strconv"

	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/manager"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

// opCleanup is the remaining unimplemented half of C9's TaskDeleter:
// Engine.finish already drops the op from the in-flight map, deletes
// the MetaStore OP node, publishes op.done/op.failed, and trims
// doneList past MaxOpNum (pkg/op/engine.go's finish). What it cannot do from inside the
// Engine's own mutex is fan out and ask every Healthy tablet to drop
// its local knowledge of the op, so opCleanup does that, reacting to
// the op.done/op.failed events finish already publishes.
//
// Replica clusters are not included in this fanout: remotecluster.Peer
// exposes ShowAllTable, LeaderEndpoint and the three *Remote mirror
// calls, but no op-deletion RPC, so a peer cluster's own op
// bookkeeping is its own concern, not this zone's.
type opCleanup struct {
	coord  *manager.Coordinator
	logger zerolog.Logger
}

func newOpCleanup(coord *manager.Coordinator, logger zerolog.Logger) *opCleanup {
	return &opCleanup{coord: coord, logger: logger}
}

func (c *opCleanup) run(ctx context.Context) {
	sub := c.coord.Broker().Subscribe()
	defer c.coord.Broker().Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Type != events.EventOpDone && evt.Type != events.EventOpFailed {
				continue
			}
			opID, err := strconv.ParseUint(evt.Metadata["op_id"], 10, 64)
			if err != nil {
				continue
			}
			c.fanoutDelete(ctx, opID)
		}
	}
}

func (c *opCleanup) fanoutDelete(ctx context.Context, opID uint64) {
	dialer := c.coord.Dialer()
	if dialer == nil {
		return
	}
	for _, t := range c.coord.Tablets.List() {
		if t.State != types.TabletHealthy {
			continue
		}
		client, err := dialer.Dial(t.Endpoint)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", t.Endpoint).Msg("opCleanup: dial failed")
			continue
		}
		if err := client.DeleteOp(ctx, opID); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", t.Endpoint).Uint64("op_id", opID).Msg("opCleanup: DeleteOp failed")
		}
	}
}
