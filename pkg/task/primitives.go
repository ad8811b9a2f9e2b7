package task

import (
	"context"
	"fmt"

	"github.com/cuemby/tablestore/pkg/types"
)

// Primitive identifies one single-tablet RPC wrapper from the spec's
// primitive set (§4.4). The OP Engine's task_list carries the name as
// a Task.TaskType string; Invoke dispatches it against a dialed
// TabletClient.
type Primitive string

const (
	PrimMakeSnapshot      Primitive = "MakeSnapshot"
	PrimPauseSnapshot     Primitive = "PauseSnapshot"
	PrimRecoverSnapshot   Primitive = "RecoverSnapshot"
	PrimSendSnapshot      Primitive = "SendSnapshot"
	PrimLoadTable         Primitive = "LoadTable"
	PrimAddReplica        Primitive = "AddReplica"
	PrimDelReplica        Primitive = "DelReplica"
	PrimDropTable         Primitive = "DropTable"
	PrimChangeRole        Primitive = "ChangeRole"
	PrimGetTermPair       Primitive = "GetTermPair"
	PrimGetManifest       Primitive = "GetManifest"
	PrimFollowOfNoOne     Primitive = "FollowOfNoOne"
	PrimDeleteBinlog      Primitive = "DeleteBinlog"
	PrimUpdateTTL         Primitive = "UpdateTTL"
	PrimDumpIndexData     Primitive = "DumpIndexData"
	PrimSendIndexData     Primitive = "SendIndexData"
	PrimExtractIndexData  Primitive = "ExtractIndexData"
	PrimLoadIndexData     Primitive = "LoadIndexData"
	PrimAddIndexToTablet  Primitive = "AddIndexToTablet"
)

// Args carries the superset of parameters any primitive might need;
// each Invoke case reads only the fields it uses. This mirrors the
// teacher's single-Command-struct FSM dispatch (pkg/manager/fsm.go)
// applied here to RPC dispatch instead of Raft log application.
type Args struct {
	Tid         uint64
	RemoteTid   uint64
	Pid         int
	Endpoint    string
	Dst         string
	ToLeader    bool
	Term        uint64
	Followers   []string
	TTLSeconds  uint64
	IndexName   string
	Columns     []string
}

// Invoke dispatches one primitive against client. It is the only place
// that translates the spec's named primitive set into TabletClient
// calls, so adding a primitive means adding one case here plus a
// constant above.
func Invoke(ctx context.Context, client TabletClient, prim Primitive, a Args) error {
	switch prim {
	case PrimMakeSnapshot:
		return client.MakeSnapshot(ctx, a.Tid, a.Pid)
	case PrimPauseSnapshot:
		return client.PauseSnapshot(ctx, a.Tid, a.Pid)
	case PrimRecoverSnapshot:
		return client.RecoverSnapshot(ctx, a.Tid, a.Pid)
	case PrimSendSnapshot:
		return client.SendSnapshot(ctx, a.Tid, a.RemoteTid, a.Pid, a.Dst)
	case PrimLoadTable:
		return client.LoadTable(ctx, a.Tid, a.Pid)
	case PrimAddReplica:
		return client.AddReplica(ctx, a.Tid, a.Pid, a.Endpoint)
	case PrimDelReplica:
		return client.DelReplica(ctx, a.Tid, a.Pid, a.Endpoint)
	case PrimDropTable:
		return client.DropTable(ctx, a.Tid, a.Pid)
	case PrimChangeRole:
		return client.ChangeRole(ctx, a.Tid, a.Pid, a.ToLeader, a.Term, a.Followers)
	case PrimFollowOfNoOne:
		return client.FollowOfNoOne(ctx, a.Tid, a.Pid, a.Term)
	case PrimDeleteBinlog:
		return client.DeleteBinlog(ctx, a.Tid, a.Pid)
	case PrimUpdateTTL:
		return client.UpdateTTL(ctx, a.Tid, a.TTLSeconds)
	case PrimDumpIndexData:
		return client.DumpIndexData(ctx, a.Tid, a.Pid, a.IndexName)
	case PrimSendIndexData:
		return client.SendIndexData(ctx, a.Tid, a.Pid, a.IndexName, a.Dst)
	case PrimExtractIndexData:
		return client.ExtractIndexData(ctx, a.Tid, a.Pid, a.IndexName)
	case PrimLoadIndexData:
		return client.LoadIndexData(ctx, a.Tid, a.Pid, a.IndexName)
	case PrimAddIndexToTablet:
		return client.AddIndex(ctx, a.Tid, a.Pid, a.IndexName, a.Columns)
	default:
		return fmt.Errorf("task: unknown primitive %q", prim)
	}
}

// GetTermPair and GetManifest return values rather than a bare error,
// so they are invoked directly rather than through Invoke.
func GetTermPair(ctx context.Context, client TabletClient, tid uint64, pid int) (term, offset uint64, err error) {
	return client.GetTermPair(ctx, tid, pid)
}

func GetManifest(ctx context.Context, client TabletClient, tid uint64, pid int) ([]byte, error) {
	return client.GetManifest(ctx, tid, pid)
}

// Run executes one task's primitive against a freshly dialed client,
// marking IsRPCSend true once dispatch has been tried (a dial failure
// counts) and Failed only on a dial, transport or tablet-rejected
// failure; a successful
// send leaves the task Doing, to be resolved later by the tablet's own
// task-status query (C9's TaskStatusPoller), per spec §4.4.
func Run(ctx context.Context, dialer Dialer, t *types.Task, prim Primitive, a Args) {
	client, err := dialer.Dial(t.Endpoint)
	if err != nil {
		t.IsRPCSend = true
		t.Status = types.StatusFailed
		return
	}
	a.Endpoint = t.Endpoint
	err = Invoke(ctx, client, prim, a)
	t.IsRPCSend = true
	if err != nil {
		t.Status = types.StatusFailed
		return
	}
	t.Status = types.StatusDoing
}
