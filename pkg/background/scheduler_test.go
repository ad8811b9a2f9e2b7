package background

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/manager"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
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

// fakeClient satisfies task.TabletClient; these tests exercise the
// scheduler loops' wiring, not tablet-side behavior.
type fakeClient struct{}

func (fakeClient) MakeSnapshot(ctx context.Context, tid uint64, pid int) error    { return nil }
func (fakeClient) PauseSnapshot(ctx context.Context, tid uint64, pid int) error   { return nil }
func (fakeClient) RecoverSnapshot(ctx context.Context, tid uint64, pid int) error { return nil }
func (fakeClient) SendSnapshot(ctx context.Context, tid, remoteTid uint64, pid int, dst string) error {
	return nil
}
func (fakeClient) LoadTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (fakeClient) AddReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (fakeClient) DelReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (fakeClient) DropTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (fakeClient) ChangeRole(ctx context.Context, tid uint64, pid int, toLeader bool, term uint64, followers []string) error {
	return nil
}
func (fakeClient) GetTermPair(ctx context.Context, tid uint64, pid int) (uint64, uint64, error) {
	return 0, 0, nil
}
func (fakeClient) GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error) {
	return nil, nil
}
func (fakeClient) FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error {
	return nil
}
func (fakeClient) DeleteBinlog(ctx context.Context, tid uint64, pid int) error { return nil }
func (fakeClient) UpdateTTL(ctx context.Context, tid uint64, ttlSeconds uint64) error {
	return nil
}
func (fakeClient) DumpIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (fakeClient) SendIndexData(ctx context.Context, tid uint64, pid int, indexName, dst string) error {
	return nil
}
func (fakeClient) ExtractIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (fakeClient) LoadIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	return nil
}
func (fakeClient) AddIndex(ctx context.Context, tid uint64, pid int, indexName string, columns []string) error {
	return nil
}

var deletedOps []uint64

func (fakeClient) GetTaskStatus(ctx context.Context, opIDs []uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, len(opIDs))
	for _, id := range opIDs {
		out[id] = string(types.StatusDone)
	}
	return out, nil
}
func (fakeClient) CancelTask(ctx context.Context, opID uint64) error { return nil }
func (fakeClient) DeleteOp(ctx context.Context, opID uint64) error {
	deletedOps = append(deletedOps, opID)
	return nil
}
func (fakeClient) PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error {
	return nil
}
func (fakeClient) GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error) {
	return types.TableStatus{RecordCnt: 42}, nil
}

type fakeDialer struct{}

func (fakeDialer) Dial(endpoint string) (task.TabletClient, error) { return fakeClient{}, nil }

func newTestCoordinator(t *testing.T) *manager.Coordinator {
	t.Helper()
	c, err := manager.New(manager.Config{
		NodeID:   "n1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
		OpEngine: op.Config{MaxConcurrency: 1},
	}, fakeDialer{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Store().Bootstrap())
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, c.IsRunning, 3*time.Second, 10*time.Millisecond)
	return c
}

func registerTablet(t *testing.T, c *manager.Coordinator, endpoint string) {
	t.Helper()
	require.NoError(t, c.Store().RegisterEphemeral(context.Background(), paths.Node(endpoint), []byte(endpoint)))
	require.Eventually(t, func() bool {
		_, ok := c.Tablets.GetHealthy(endpoint)
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUntilNextSnapshot(t *testing.T) {
	s := New(nil, Config{MakeSnapshotTime: "03:00"})
	d := s.untilNextSnapshot()
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 24*time.Hour)
}

func TestUntilNextSnapshotBadTime(t *testing.T) {
	s := New(nil, Config{MakeSnapshotTime: "not-a-time"})
	require.Equal(t, 24*time.Hour, s.untilNextSnapshot())
}

func TestPushRealEpMap(t *testing.T) {
	c := newTestCoordinator(t)
	registerTablet(t, c, "127.0.0.1:9001")

	s := New(c, Config{})
	require.NotPanics(t, func() { s.pushRealEpMap(context.Background()) })
}

func TestAggregateTableStatus(t *testing.T) {
	c := newTestCoordinator(t)
	registerTablet(t, c, "127.0.0.1:9002")

	_, err := c.Catalog.CreateTable(context.Background(), catalog.CreateTableSpec{
		Db:           "",
		Name:         "t",
		Columns:      []types.ColumnDesc{{Name: "id", Type: types.ColTypeInt64}},
		ColumnKeys:   []types.ColumnKey{{IndexName: "pk", ColName: []string{"id"}}},
		PartitionNum: 1,
		ReplicaNum:   1,
	})
	require.NoError(t, err)

	s := New(c, Config{})
	require.NotPanics(t, func() { s.aggregateTableStatus(context.Background()) })
}

func TestSchedulerStartStop(t *testing.T) {
	c := newTestCoordinator(t)
	s := New(c, Config{
		HeartbeatInterval:   20 * time.Millisecond,
		TaskStatusInterval:  20 * time.Millisecond,
		TableStatusInterval: 20 * time.Millisecond,
		RealEpMapInterval:   20 * time.Millisecond,
		MakeSnapshotTime:    "03:00",
	})
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()
}

func TestOpCleanupFanout(t *testing.T) {
	c := newTestCoordinator(t)
	registerTablet(t, c, "127.0.0.1:9003")

	deletedOps = nil
	cleanup := newOpCleanup(c, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanup.run(ctx)

	time.Sleep(10 * time.Millisecond)
	cleanup.fanoutDelete(context.Background(), 123)
	require.Eventually(t, func() bool { return len(deletedOps) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(123), deletedOps[0])
}
