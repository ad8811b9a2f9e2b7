package task

import (
	"context"

	"github.com/cuemby/tablestore/pkg/types"
)

// TabletClient is one tablet's RPC surface as seen by the Task
// Primitives layer. pkg/client provides the gRPC-backed implementation;
// tests use a fake satisfying the same interface.
type TabletClient interface {
	MakeSnapshot(ctx context.Context, tid uint64, pid int) error
	PauseSnapshot(ctx context.Context, tid uint64, pid int) error
	RecoverSnapshot(ctx context.Context, tid uint64, pid int) error
	SendSnapshot(ctx context.Context, tid, remoteTid uint64, pid int, dst string) error
	LoadTable(ctx context.Context, tid uint64, pid int) error
	AddReplica(ctx context.Context, tid uint64, pid int, endpoint string) error
	DelReplica(ctx context.Context, tid uint64, pid int, endpoint string) error
	DropTable(ctx context.Context, tid uint64, pid int) error
	ChangeRole(ctx context.Context, tid uint64, pid int, toLeader bool, term uint64, followers []string) error
	GetTermPair(ctx context.Context, tid uint64, pid int) (term uint64, offset uint64, err error)
	GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error)
	FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error
	DeleteBinlog(ctx context.Context, tid uint64, pid int) error
	UpdateTTL(ctx context.Context, tid uint64, ttlSeconds uint64) error
	DumpIndexData(ctx context.Context, tid uint64, pid int, indexName string) error
	SendIndexData(ctx context.Context, tid uint64, pid int, indexName, dst string) error
	ExtractIndexData(ctx context.Context, tid uint64, pid int, indexName string) error
	LoadIndexData(ctx context.Context, tid uint64, pid int, indexName string) error
	AddIndex(ctx context.Context, tid uint64, pid int, indexName string, columns []string) error
	GetTaskStatus(ctx context.Context, opIDs []uint64) (map[uint64]string, error)
	CancelTask(ctx context.Context, opID uint64) error
	DeleteOp(ctx context.Context, opID uint64) error
	PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error

	// GetTableStatus reports one partition replica's live stats, used
	// by the TableStatusAggregator background scheduler (spec §4.9).
	GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error)
}

// Dialer resolves an endpoint to a TabletClient, caching connections.
type Dialer interface {
	Dial(endpoint string) (TabletClient, error)
}
