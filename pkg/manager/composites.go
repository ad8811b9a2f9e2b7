package manager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/types"
)

// registerComposites wires every coordinator-local composite primitive
// named in pkg/op/factory.go's task chains. Unlike a plain tablet RPC,
// a composite mutates the Catalog directly and, where a tablet still
// needs to be told ("you are now the leader"), dials it itself — the
// same "catalog write plus best-effort RPC fan-out" shape the teacher's
// reconciler uses against its own manager.
func (c *Coordinator) registerComposites() {
	c.Engine.RegisterComposite("AddTableInfo", c.compAddTableInfo)
	c.Engine.RegisterComposite("DelTableInfo", c.compDelTableInfo)
	c.Engine.RegisterComposite("UpdatePartitionStatus", c.compUpdatePartitionStatus)
	c.Engine.RegisterComposite("CheckBinlogSyncProgress", c.compCheckBinlogSyncProgress)
	c.Engine.RegisterComposite("SelectLeader", c.compSelectLeader)
	c.Engine.RegisterComposite("ChangeLeader", c.compChangeLeader)
	c.Engine.RegisterComposite("UpdateLeaderInfo", c.compUpdateLeaderInfo)
	c.Engine.RegisterComposite("RecoverTable", c.compRecoverTable)
	c.Engine.RegisterComposite("UpdateTableInfo", c.compUpdateTableInfo)
	c.Engine.RegisterComposite("TableSyncTask", c.compUpdateTableInfo)
}

// compAddTableInfo records t.Endpoint as a new (non-leader, alive)
// replica, run once a follower has finished loading a sent snapshot.
func (c *Coordinator) compAddTableInfo(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	if err := c.Catalog.AddPartitionReplica(ctx, o.Db, o.Name, o.Pid, t.Endpoint, false); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", t.Endpoint).Msg("AddTableInfo failed")
		return types.StatusFailed
	}
	return types.StatusDone
}

// compDelTableInfo drops t.Endpoint as a replica; in the DelReplica
// chain it runs after the leader's DelReplica RPC and before the
// follower's DropTable.
func (c *Coordinator) compDelTableInfo(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	if err := c.Catalog.RemovePartitionReplica(ctx, o.Db, o.Name, o.Pid, t.Endpoint); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", t.Endpoint).Msg("DelTableInfo failed")
		return types.StatusFailed
	}
	return types.StatusDone
}

// compUpdatePartitionStatus flips one replica's liveness flag; the
// endpoint comes from t.Endpoint when the factory bound it directly,
// falling back to the op payload's "endpoint" key otherwise.
func (c *Coordinator) compUpdatePartitionStatus(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	p := decodePayload(o.Data)
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint, _ = p["endpoint"].(string)
	}
	alive := true
	if v, ok := p["alive"].(bool); ok {
		alive = v
	}
	if endpoint == "" {
		return types.StatusFailed
	}
	if err := c.Catalog.SetPartitionAlive(ctx, o.Db, o.Name, o.Pid, endpoint, alive); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("UpdatePartitionStatus failed")
		return types.StatusFailed
	}
	return types.StatusDone
}

// compCheckBinlogSyncProgress polls t.Endpoint's term/offset a bounded
// number of times, waiting for it to catch up to the leader's recorded
// offset before the AddReplica/Migrate chain proceeds to mark it a
// live replica.
func (c *Coordinator) compCheckBinlogSyncProgress(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	tbl, err := c.Catalog.GetTable(o.Db, o.Name)
	if err != nil {
		return types.StatusFailed
	}
	var wantOffset uint64
	for _, tp := range tbl.TablePartition {
		if tp.Pid == o.Pid {
			if l := tp.Leader(); l != nil {
				wantOffset = l.Offset
			}
		}
	}

	client, err := c.dialer.Dial(t.Endpoint)
	if err != nil {
		return types.StatusFailed
	}
	for attempt := 0; attempt < 10; attempt++ {
		_, offset, err := client.GetTermPair(ctx, tbl.Tid, o.Pid)
		if err == nil && offset >= wantOffset {
			return types.StatusDone
		}
		time.Sleep(100 * time.Millisecond)
	}
	c.logger.Warn().Str("endpoint", t.Endpoint).Msg("CheckBinlogSyncProgress did not catch up")
	return types.StatusFailed
}

// compSelectLeader picks a successor among the partition's alive
// replicas and stashes its endpoint into op.Data under "new_leader"
// for ChangeLeader/UpdateLeaderInfo to pick up.
func (c *Coordinator) compSelectLeader(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	tbl, err := c.Catalog.GetTable(o.Db, o.Name)
	if err != nil {
		return types.StatusFailed
	}
	p := decodePayload(o.Data)
	preferred, _ := p["preferred"].(string)

	var candidates []string
	for _, tp := range tbl.TablePartition {
		if tp.Pid != o.Pid {
			continue
		}
		for _, m := range tp.PartitionMeta {
			if m.IsAlive && !m.IsLeader {
				candidates = append(candidates, m.Endpoint)
			}
		}
	}
	if len(candidates) == 0 {
		c.logger.Warn().Str("db", o.Db).Str("table", o.Name).Int("pid", o.Pid).Msg("SelectLeader found no alive candidate")
		return types.StatusFailed
	}

	newLeader, term, err := task.SelectLeader(ctx, c.dialer, tbl.Tid, o.Pid, candidates, tbl.Term, preferred)
	if err != nil {
		c.logger.Warn().Err(err).Str("db", o.Db).Str("table", o.Name).Int("pid", o.Pid).Msg("SelectLeader election failed")
		return types.StatusFailed
	}
	if _, err := c.Catalog.BumpTableTerm(ctx, o.Db, o.Name, term-tbl.Term); err != nil {
		c.logger.Warn().Err(err).Msg("SelectLeader: failed to persist bumped term")
		return types.StatusFailed
	}

	p["new_leader"] = newLeader
	p["term"] = term
	raw, err := json.Marshal(p)
	if err != nil {
		return types.StatusFailed
	}
	o.Data = raw
	return types.StatusDone
}

// compChangeLeader tells the selected successor to become leader and
// best-effort tells the outgoing leader to step down at the election
// term, one below the new leader's term.
func (c *Coordinator) compChangeLeader(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	p := decodePayload(o.Data)
	newLeader, _ := p["new_leader"].(string)
	term, _ := p["term"].(float64)
	if newLeader == "" || term == 0 {
		return types.StatusFailed
	}

	tbl, err := c.Catalog.GetTable(o.Db, o.Name)
	if err != nil {
		return types.StatusFailed
	}

	var oldLeader string
	var followers []string
	for _, tp := range tbl.TablePartition {
		if tp.Pid != o.Pid {
			continue
		}
		if l := tp.Leader(); l != nil {
			oldLeader = l.Endpoint
		}
		for _, m := range tp.PartitionMeta {
			if m.Endpoint != newLeader {
				followers = append(followers, m.Endpoint)
			}
		}
	}

	if err := task.ChangeLeader(ctx, c.dialer, tbl.Tid, o.Pid, newLeader, uint64(term), followers); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", newLeader).Msg("ChangeLeader: promote RPC failed")
		return types.StatusFailed
	}

	if oldLeader != "" && oldLeader != newLeader {
		if old, err := c.dialer.Dial(oldLeader); err == nil {
			_ = old.FollowOfNoOne(ctx, tbl.Tid, o.Pid, uint64(term)-1)
		}
	}
	return types.StatusDone
}

// compUpdateLeaderInfo commits the leadership change into the catalog
// once ChangeLeader's RPCs have gone out.
func (c *Coordinator) compUpdateLeaderInfo(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	p := decodePayload(o.Data)
	newLeader, _ := p["new_leader"].(string)
	term, _ := p["term"].(float64)
	if newLeader == "" || term == 0 {
		return types.StatusFailed
	}
	if err := c.Catalog.SetPartitionLeaderAtTerm(ctx, o.Db, o.Name, o.Pid, newLeader, uint64(term)); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", newLeader).Msg("UpdateLeaderInfo failed")
		return types.StatusFailed
	}
	return types.StatusDone
}

// compRecoverTable flips a previously-offline replica back alive; if
// the partition has no alive leader left, it also promotes this
// endpoint. t.Endpoint may carry the literal OFFLINE_LEADER_ENDPOINT
// sentinel (admin-requested restore mode, RestoreEndpoint's second,
// standalone OpRecoverTable OP chasing an already-completed
// ChangeLeader OP) — that token must never be written into the
// catalog, so it's resolved here to whichever endpoint the partition's
// current leader actually is before anything is persisted.
func (c *Coordinator) compRecoverTable(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	tbl, err := c.Catalog.GetTable(o.Db, o.Name)
	if err != nil {
		return types.StatusFailed
	}

	endpoint := t.Endpoint
	if endpoint == types.OfflineLeaderEndpoint {
		endpoint = ""
		for _, tp := range tbl.TablePartition {
			if tp.Pid == o.Pid {
				if l := tp.Leader(); l != nil {
					endpoint = l.Endpoint
				}
			}
		}
		if endpoint == "" {
			c.logger.Warn().Str("db", o.Db).Str("table", o.Name).Int("pid", o.Pid).Msg("RecoverTable: sentinel endpoint has no current leader to resolve to")
			return types.StatusFailed
		}
	}

	if err := c.Catalog.SetPartitionAlive(ctx, o.Db, o.Name, o.Pid, endpoint, true); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("RecoverTable failed")
		return types.StatusFailed
	}
	tbl, err = c.Catalog.GetTable(o.Db, o.Name)
	if err != nil {
		return types.StatusFailed
	}
	for _, tp := range tbl.TablePartition {
		if tp.Pid == o.Pid && tp.Leader() == nil {
			if err := c.Catalog.SetPartitionLeader(ctx, o.Db, o.Name, o.Pid, endpoint); err != nil {
				c.logger.Warn().Msg("RecoverTable: promote fallback leader failed")
				return types.StatusFailed
			}
		}
	}
	return types.StatusDone
}

// compUpdateTableInfo finalizes whichever chain it appears in: for
// Migrate it drops the migrated-away source replica; for AddIndex
// (registered a second time under the spec's "TableSyncTask" name,
// spec §4.5's barrier-continuation) it's a pure completion marker
// since AddIndex already persisted the new column_key before the
// tablet RPCs went out.
func (c *Coordinator) compUpdateTableInfo(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	if o.OpType == types.OpMigrate {
		if err := c.Catalog.RemovePartitionReplica(ctx, o.Db, o.Name, o.Pid, t.Endpoint); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", t.Endpoint).Msg("UpdateTableInfo (migrate) failed")
			return types.StatusFailed
		}
	}
	return types.StatusDone
}

func decodePayload(data []byte) op.Payload {
	p := op.Payload{}
	if len(data) == 0 {
		return p
	}
	_ = json.Unmarshal(data, &p)
	return p
}
