package op

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct{ fail bool }

func (s *stubClient) MakeSnapshot(ctx context.Context, tid uint64, pid int) error {
	if s.fail {
		return assert.AnError
	}
	return nil
}
func (s *stubClient) PauseSnapshot(ctx context.Context, tid uint64, pid int) error    { return nil }
func (s *stubClient) RecoverSnapshot(ctx context.Context, tid uint64, pid int) error  { return nil }
func (s *stubClient) SendSnapshot(ctx context.Context, tid, rtid uint64, pid int, dst string) error {
	return nil
}
func (s *stubClient) LoadTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (s *stubClient) AddReplica(ctx context.Context, tid uint64, pid int, ep string) error {
	return nil
}
func (s *stubClient) DelReplica(ctx context.Context, tid uint64, pid int, ep string) error {
	return nil
}
func (s *stubClient) DropTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (s *stubClient) ChangeRole(ctx context.Context, tid uint64, pid int, lead bool, term uint64, f []string) error {
	return nil
}
func (s *stubClient) GetTermPair(ctx context.Context, tid uint64, pid int) (uint64, uint64, error) {
	return 0, 0, nil
}
func (s *stubClient) GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error) {
	return nil, nil
}
func (s *stubClient) FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error {
	return nil
}
func (s *stubClient) DeleteBinlog(ctx context.Context, tid uint64, pid int) error        { return nil }
func (s *stubClient) UpdateTTL(ctx context.Context, tid uint64, ttl uint64) error        { return nil }
func (s *stubClient) DumpIndexData(ctx context.Context, tid uint64, pid int, i string) error {
	return nil
}
func (s *stubClient) SendIndexData(ctx context.Context, tid uint64, pid int, i, d string) error {
	return nil
}
func (s *stubClient) ExtractIndexData(ctx context.Context, tid uint64, pid int, i string) error {
	return nil
}
func (s *stubClient) LoadIndexData(ctx context.Context, tid uint64, pid int, i string) error {
	return nil
}
func (s *stubClient) AddIndex(ctx context.Context, tid uint64, pid int, i string, c []string) error {
	return nil
}
func (s *stubClient) GetTaskStatus(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	return nil, nil
}
func (s *stubClient) CancelTask(ctx context.Context, opID uint64) error { return nil }
func (s *stubClient) DeleteOp(ctx context.Context, opID uint64) error   { return nil }
func (s *stubClient) PushRealEndpointMap(ctx context.Context, ep string, m map[string]string) error {
	return nil
}
func (s *stubClient) GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error) {
	return types.TableStatus{}, nil
}

type stubDialer struct{ client *stubClient }

func (d stubDialer) Dial(endpoint string) (task.TabletClient, error) { return d.client, nil }

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newStore(t *testing.T) metastore.Client {
	t.Helper()
	e, err := metastore.NewEmbedded(metastore.Config{NodeID: "n1", BindAddr: freeAddr(t), DataDir: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Bootstrap())
	t.Cleanup(func() { e.Close() })
	require.Eventually(t, e.IsLeader, 2*time.Second, 10*time.Millisecond)
	return e
}

func TestMakeSnapshotOpCompletes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	dialer := stubDialer{client: &stubClient{}}

	e := New(Config{MaxConcurrency: 2}, store, dialer, nil)
	e.RegisterComposite("AddTableInfo", func(ctx context.Context, op *types.OPData, t *types.Task) types.OpStatus {
		return types.StatusDone
	})
	e.Start()
	defer e.Stop()

	opData, err := e.CreateOPData(ctx, types.OpMakeSnapshot, Payload{"leader": "a"}, "orders", "", 0, 0, 0)
	require.NoError(t, err)
	e.AddOPData(opData)

	// MakeSnapshot's single tablet task goes Inited->Doing (async); the
	// poller would normally resolve it to Done from the tablet's own
	// status query. Simulate that here to exercise completion.
	require.Eventually(t, func() bool {
		op, ok := e.Get(opData.OpID)
		return ok && op.CurrentTask() != nil && op.CurrentTask().Status == types.StatusDoing
	}, time.Second, 10*time.Millisecond)

	op, _ := e.Get(opData.OpID)
	op.CurrentTask().Status = types.StatusDone

	require.Eventually(t, func() bool {
		_, ok := e.Get(opData.OpID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCancelOP(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	dialer := stubDialer{client: &stubClient{}}
	e := New(Config{MaxConcurrency: 2}, store, dialer, nil)

	opData, err := e.CreateOPData(ctx, types.OpMakeSnapshot, Payload{"leader": "a"}, "orders", "", 0, 0, 0)
	require.NoError(t, err)
	e.AddOPData(opData)

	canceled, ok := e.CancelOP(opData.OpID)
	require.True(t, ok)
	assert.Equal(t, types.StatusCanceled, canceled.TaskStatus)
}

func TestBuildTaskChainUnknownType(t *testing.T) {
	_, err := BuildTaskChain(types.OpAddIndex, Payload{})
	assert.Error(t, err)
}
