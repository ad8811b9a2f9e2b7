package catalog

import (
	"context"
	"fmt"

	"github.com/cuemby/tablestore/pkg/types"
)

// partitionOf must be called with c.mu held; it returns a pointer to
// the live TablePartition so callers mutate it in place before persist.
func partitionOf(tbl *types.Table, pid int) (*types.TablePartition, error) {
	for i := range tbl.TablePartition {
		if tbl.TablePartition[i].Pid == pid {
			return &tbl.TablePartition[i], nil
		}
	}
	return nil, fmt.Errorf("pid %d not found", pid)
}

// AddPartitionReplica records a new replica of (db, name, pid), used by
// the AddTableInfo composite once a follower has finished loading a
// freshly-sent snapshot.
func (c *Catalog) AddPartitionReplica(ctx context.Context, db, name string, pid int, endpoint string, isLeader bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint == endpoint {
			tp.PartitionMeta[i].IsAlive = true
			tp.PartitionMeta[i].IsLeader = isLeader
			return c.persistNotify(ctx, tbl)
		}
	}
	tp.PartitionMeta = append(tp.PartitionMeta, types.PartitionMeta{
		Endpoint: endpoint,
		IsAlive:  true,
		IsLeader: isLeader,
	})
	return c.persistNotify(ctx, tbl)
}

// RemovePartitionReplica drops a replica entirely, used by DelTableInfo
// and by Migrate's final UpdateTableInfo step against the source.
func (c *Catalog) RemovePartitionReplica(ctx context.Context, db, name string, pid int, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	kept := tp.PartitionMeta[:0]
	for _, m := range tp.PartitionMeta {
		if m.Endpoint != endpoint {
			kept = append(kept, m)
		}
	}
	tp.PartitionMeta = kept
	return c.persistNotify(ctx, tbl)
}

// UpdatePartitionStats folds one GetTableStatus response into
// endpoint's PartitionMeta entry, used by the TableStatusAggregator
// background scheduler (spec §4.9). An unknown table or pid returns an
// error; an endpoint that is not a replica of the partition is silently
// ignored: a tablet can report stats for a partition the catalog has
// already reassigned away from it.
func (c *Catalog) UpdatePartitionStats(ctx context.Context, db, name string, pid int, endpoint string, st types.TableStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint != endpoint {
			continue
		}
		tp.PartitionMeta[i].Offset = st.Offset
		tp.PartitionMeta[i].RecordCnt = st.RecordCnt
		tp.PartitionMeta[i].RecordByteSize = st.RecordByteSize
		tp.PartitionMeta[i].DiskUsed = st.DiskUsed
		tp.PartitionMeta[i].TsIdxStatus = st.TsIdxStatus
		return c.persistNotify(ctx, tbl)
	}
	return nil
}

// SetPartitionAlive flips one replica's liveness flag, used by
// UpdatePartitionStatus and by RecoverTable's restore path.
func (c *Catalog) SetPartitionAlive(ctx context.Context, db, name string, pid int, endpoint string, alive bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint == endpoint {
			tp.PartitionMeta[i].IsAlive = alive
			return c.persistNotify(ctx, tbl)
		}
	}
	return fmt.Errorf("endpoint %q not a replica of pid %d", endpoint, pid)
}

// SetPartitionLeader promotes leaderEndpoint to leader of (db, name,
// pid), demotes every other replica, bumps the table term, and records
// a TermOffset entry for the new term starting at the new leader's
// current offset — used by the RecoverTable composite to promote the
// recovered endpoint when the partition has no leader left.
func (c *Catalog) SetPartitionLeader(ctx context.Context, db, name string, pid int, leaderEndpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	found := false
	var startOffset uint64
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint == leaderEndpoint {
			tp.PartitionMeta[i].IsLeader = true
			found = true
			startOffset = tp.PartitionMeta[i].Offset
		} else {
			tp.PartitionMeta[i].IsLeader = false
		}
	}
	if !found {
		return fmt.Errorf("endpoint %q not a replica of pid %d", leaderEndpoint, pid)
	}
	tbl.Term++
	tp.TermOffset = append(tp.TermOffset, types.TermOffset{Term: tbl.Term, StartOffset: startOffset})
	return c.persistNotify(ctx, tbl)
}

// BumpTableTerm advances (db, name)'s table-global term by delta and
// returns the new value. SelectLeader uses delta=2: one term reserved
// for the election itself (FollowOfNoOne on the old leader and every
// losing candidate), one for the winning candidate's own ChangeRole
// call, so the two RPCs never race on the same term number.
func (c *Catalog) BumpTableTerm(ctx context.Context, db, name string, delta uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return 0, err
	}
	tbl.Term += delta
	if err := c.persistNotify(ctx, tbl); err != nil {
		return 0, err
	}
	return tbl.Term, nil
}

// SetPartitionLeaderAtTerm promotes leaderEndpoint to leader of (db,
// name, pid) at an already-decided term (spec §4.4's SelectLeader has
// already bumped the table term before calling ChangeRole), rather
// than auto-incrementing as SetPartitionLeader does for the plain
// restore/recover path.
func (c *Catalog) SetPartitionLeaderAtTerm(ctx context.Context, db, name string, pid int, leaderEndpoint string, term uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	found := false
	var startOffset uint64
	for i := range tp.PartitionMeta {
		if tp.PartitionMeta[i].Endpoint == leaderEndpoint {
			tp.PartitionMeta[i].IsLeader = true
			tp.PartitionMeta[i].IsAlive = true
			found = true
			startOffset = tp.PartitionMeta[i].Offset
		} else {
			tp.PartitionMeta[i].IsLeader = false
		}
	}
	if !found {
		return fmt.Errorf("endpoint %q not a replica of pid %d", leaderEndpoint, pid)
	}
	if term > tbl.Term {
		tbl.Term = term
	}
	tp.TermOffset = append(tp.TermOffset, types.TermOffset{Term: term, StartOffset: startOffset + 1})
	return c.persistNotify(ctx, tbl)
}

// UpsertRemotePartitionMeta records or updates one peer-cluster replica
// of (db, name, pid) — the local bookkeeping side of C7's *Remote OP
// mirroring (spec §4.7): the actual peer mutation happens over RPC,
// this just keeps remote_partition_meta in sync with the outcome.
func (c *Catalog) UpsertRemotePartitionMeta(ctx context.Context, db, name string, pid int, meta types.RemotePartitionMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	for i := range tp.RemotePartitionMeta {
		if tp.RemotePartitionMeta[i].Alias == meta.Alias && tp.RemotePartitionMeta[i].Endpoint == meta.Endpoint {
			tp.RemotePartitionMeta[i] = meta
			return c.persistNotify(ctx, tbl)
		}
	}
	tp.RemotePartitionMeta = append(tp.RemotePartitionMeta, meta)
	return c.persistNotify(ctx, tbl)
}

// RemoveRemotePartitionMeta drops a peer-cluster replica record, used
// when DelReplicaRemoteOP retires a stale peer endpoint (CheckClusterInfo's
// drift repair, spec §4.7).
func (c *Catalog) RemoveRemotePartitionMeta(ctx context.Context, db, name string, pid int, alias, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tp, err := partitionOf(tbl, pid)
	if err != nil {
		return err
	}
	kept := tp.RemotePartitionMeta[:0]
	for _, m := range tp.RemotePartitionMeta {
		if m.Alias != alias || m.Endpoint != endpoint {
			kept = append(kept, m)
		}
	}
	tp.RemotePartitionMeta = kept
	return c.persistNotify(ctx, tbl)
}

// persistNotify must be called with c.mu held.
func (c *Catalog) persistNotify(ctx context.Context, tbl *types.Table) error {
	if err := c.persist(ctx, tbl); err != nil {
		return err
	}
	c.notify(ctx)
	return nil
}
