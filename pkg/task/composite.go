package task

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cuemby/tablestore/pkg/types"
)

// SelectLeader bumps term by 2 (baseTerm+1 for the election itself,
// baseTerm+2 reserved for the new leader's first term), calls
// FollowOfNoOne at the election term on every candidate in parallel,
// and returns the endpoint with the highest reported offset together
// with the leader term — ties are broken in favor of preferred if
// non-empty, else at random, per spec §4.4.
func SelectLeader(ctx context.Context, dialer Dialer, tid uint64, pid int, candidates []string, baseTerm uint64, preferred string) (endpoint string, newTerm uint64, err error) {
	if len(candidates) == 0 {
		return "", 0, fmt.Errorf("task: no candidates for leader election")
	}
	newTerm = baseTerm + 2
	electionTerm := baseTerm + 1

	type result struct {
		endpoint string
		offset   uint64
		ok       bool
	}
	results := make([]result, len(candidates))
	var wg sync.WaitGroup
	for i, ep := range candidates {
		wg.Add(1)
		go func(i int, ep string) {
			defer wg.Done()
			client, derr := dialer.Dial(ep)
			if derr != nil {
				return
			}
			if ferr := client.FollowOfNoOne(ctx, tid, pid, electionTerm); ferr != nil {
				return
			}
			_, offset, terr := client.GetTermPair(ctx, tid, pid)
			if terr != nil {
				return
			}
			results[i] = result{endpoint: ep, offset: offset, ok: true}
		}(i, ep)
	}
	wg.Wait()

	var best result
	var ties []result
	for _, r := range results {
		if !r.ok {
			continue
		}
		if r.offset > best.offset || !best.ok {
			best = r
			ties = []result{r}
		} else if r.offset == best.offset {
			ties = append(ties, r)
		}
	}
	if !best.ok {
		return "", 0, fmt.Errorf("task: no candidate responded to election for tid=%d pid=%d", tid, pid)
	}
	if len(ties) > 1 {
		for _, r := range ties {
			if r.endpoint == preferred {
				return r.endpoint, newTerm, nil
			}
		}
		return ties[rand.Intn(len(ties))].endpoint, newTerm, nil
	}
	return best.endpoint, newTerm, nil
}

// ChangeLeader issues ChangeRole(leader=true, term, followers) to the
// selected endpoint; term is the leader term SelectLeader returned, one
// above the election term its FollowOfNoOne round used.
func ChangeLeader(ctx context.Context, dialer Dialer, tid uint64, pid int, endpoint string, term uint64, followers []string) error {
	client, err := dialer.Dial(endpoint)
	if err != nil {
		return err
	}
	return client.ChangeRole(ctx, tid, pid, true, term, followers)
}

// UpdateLeaderInfo marks the old leader not-alive, the new leader
// alive+leader, and returns the term_offset entry to append.
func UpdateLeaderInfo(tp *types.TablePartition, oldLeader, newLeader string, term uint64) types.TermOffset {
	var newOffset uint64
	for i := range tp.PartitionMeta {
		pm := &tp.PartitionMeta[i]
		switch pm.Endpoint {
		case oldLeader:
			pm.IsLeader = false
			pm.IsAlive = false
		case newLeader:
			pm.IsLeader = true
			pm.IsAlive = true
			newOffset = pm.Offset + 1
		}
	}
	to := types.TermOffset{Term: term, StartOffset: newOffset}
	tp.TermOffset = append(tp.TermOffset, to)
	return to
}

// Barrier is an N-way rendezvous: the last of N arrivals runs done,
// counted with an in-memory atomic. No OP chain uses it: the
// TableSyncTask composite is compUpdateTableInfo, a single completion
// step that keeps no `.../op_sync/<tid>` counter.
type Barrier struct {
	remaining int64
	done      func()
	once      sync.Once
}

func NewBarrier(n int, done func()) *Barrier {
	return &Barrier{remaining: int64(n), done: done}
}

// Arrive registers one participant's arrival; the final arrival runs
// done() exactly once.
func (b *Barrier) Arrive() {
	if atomic.AddInt64(&b.remaining, -1) == 0 {
		b.once.Do(b.done)
	}
}

// SyncProgress is the input BinlogSynced compares. The
// CheckBinlogSyncProgress composite does not use it; it polls
// GetTermPair until the follower reaches the leader's recorded offset.
type SyncProgress struct {
	LeaderOffset   uint64
	FollowerOffset uint64
	FollowerGone   bool
}

// BinlogSynced reports whether the follower is within delta of the
// leader's offset, or has disappeared from the partition's replica
// meta (in which case polling should stop rather than loop forever).
func BinlogSynced(p SyncProgress, delta uint64) (synced bool, stop bool) {
	if p.FollowerGone {
		return false, true
	}
	if p.LeaderOffset < p.FollowerOffset {
		return true, true
	}
	return p.LeaderOffset-p.FollowerOffset <= delta, p.LeaderOffset-p.FollowerOffset <= delta
}
