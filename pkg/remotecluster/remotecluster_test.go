package remotecluster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedHealthy []string

func (f fixedHealthy) HealthyEndpoints() []string { return f }

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

func TestAddReplicaClusterPersistsAndRejectsDuplicate(t *testing.T) {
	store := newStore(t)
	cat := catalog.New(store, fixedHealthy{"a", "b", "c"})
	m := New(store, cat)

	info := types.ClusterInfo{Alias: "dr1", State: types.ClusterHealthy}
	require.NoError(t, m.AddReplicaCluster(context.Background(), info, nil, nil))

	err := m.AddReplicaCluster(context.Background(), info, nil, nil)
	require.Error(t, err)

	peers := m.List()
	require.Len(t, peers, 1)
	assert.Equal(t, "dr1", peers[0].Alias)
}

func TestAddReplicaClusterRejectsSchemaMismatch(t *testing.T) {
	store := newStore(t)
	cat := catalog.New(store, fixedHealthy{"a", "b", "c"})
	m := New(store, cat)

	_, err := cat.CreateTable(context.Background(), catalog.CreateTableSpec{
		Db:   "",
		Name: "orders",
		Columns: []types.ColumnDesc{
			{Name: "id", Type: types.ColTypeInt64},
			{Name: "ts", Type: types.ColTypeInt64, IsTsCol: true},
		},
		ColumnKeys:   []types.ColumnKey{{IndexName: "pk", ColName: []string{"id"}}},
		PartitionNum: 1,
		ReplicaNum:   1,
	})
	require.NoError(t, err)

	local := cat.ListTables("")
	require.Len(t, local, 1)

	peerTable := *local[0]
	peerTable.Columns = append(peerTable.Columns, types.ColumnDesc{Name: "extra", Type: types.ColTypeInt64})

	err = m.AddReplicaCluster(context.Background(), types.ClusterInfo{Alias: "dr2"}, []*types.Table{&peerTable}, nil)
	require.Error(t, err)
}

func TestRecoverReloadsPersistedPeers(t *testing.T) {
	store := newStore(t)
	cat := catalog.New(store, fixedHealthy{"a"})
	m := New(store, cat)
	require.NoError(t, m.AddReplicaCluster(context.Background(), types.ClusterInfo{Alias: "dr1"}, nil, nil))

	m2 := New(store, cat)
	require.NoError(t, m2.Recover(context.Background()))
	assert.Len(t, m2.List(), 1)
}

func TestSwitchModeAndAuthorize(t *testing.T) {
	store := newStore(t)
	cat := catalog.New(store, fixedHealthy{"a"})
	m := New(store, cat)

	require.NoError(t, m.Authorize(types.ZoneInfo{}))

	zone := types.ZoneInfo{ZoneName: "z1", ZoneTerm: 5, Mode: types.ClusterModeFollower}
	require.NoError(t, m.SwitchMode(context.Background(), zone))

	assert.NoError(t, m.Authorize(types.ZoneInfo{ZoneName: "z1", ZoneTerm: 5}))
	assert.Error(t, m.Authorize(types.ZoneInfo{ZoneName: "z1", ZoneTerm: 6}))
}
