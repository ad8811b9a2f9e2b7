package manager

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// stubClient satisfies task.TabletClient without doing anything; the
// coordinator tests here exercise lifecycle wiring, not task execution.
type stubClient struct{}

func (stubClient) MakeSnapshot(ctx context.Context, tid uint64, pid int) error     { return nil }
func (stubClient) PauseSnapshot(ctx context.Context, tid uint64, pid int) error    { return nil }
func (stubClient) RecoverSnapshot(ctx context.Context, tid uint64, pid int) error  { return nil }
func (stubClient) SendSnapshot(ctx context.Context, tid, remoteTid uint64, pid int, dst string) error {
	return nil
}
func (stubClient) LoadTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (stubClient) AddReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (stubClient) DelReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (stubClient) DropTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (stubClient) ChangeRole(ctx context.Context, tid uint64, pid int, toLeader bool, term uint64, followers []string) error {
	return nil
}
func (stubClient) GetTermPair(ctx context.Context, tid uint64, pid int) (uint64, uint64, error) {
	return 0, 0, nil
}
func (stubClient) GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error) {
	return nil, nil
}
func (stubClient) FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error {
	return nil
}
func (stubClient) DeleteBinlog(ctx context.Context, tid uint64, pid int) error { return nil }
func (stubClient) UpdateTTL(ctx context.Context, tid uint64, ttlSeconds uint64) error {
	return nil
}
func (stubClient) DumpIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (stubClient) SendIndexData(ctx context.Context, tid uint64, pid int, indexName, dst string) error {
	return nil
}
func (stubClient) ExtractIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (stubClient) LoadIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (stubClient) AddIndex(ctx context.Context, tid uint64, pid int, indexName string, columns []string) error {
	return nil
}
func (stubClient) GetTaskStatus(ctx context.Context, opIDs []uint64) (map[uint64]string, error) {
	return nil, nil
}
func (stubClient) CancelTask(ctx context.Context, opID uint64) error { return nil }
func (stubClient) DeleteOp(ctx context.Context, opID uint64) error  { return nil }
func (stubClient) PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error {
	return nil
}
func (stubClient) GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error) {
	return types.TableStatus{}, nil
}

type stubDialer struct{}

func (stubDialer) Dial(endpoint string) (task.TabletClient, error) { return stubClient{}, nil }

func TestCoordinatorAcquireAndRecover(t *testing.T) {
	c, err := New(Config{
		NodeID:   "n1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
		OpEngine: op.Config{MaxConcurrency: 1},
	}, stubDialer{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Store().Bootstrap())
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, c.IsRunning, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SetAutoFailover(context.Background(), true))
	require.True(t, c.AutoFailoverEnabled())
}
