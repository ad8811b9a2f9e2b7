package catalog

import (
	"context"
	"net"
	"testing"
	"time"

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
	e, err := metastore.NewEmbedded(metastore.Config{
		NodeID:   "node-1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Bootstrap())
	t.Cleanup(func() { e.Close() })
	require.Eventually(t, e.IsLeader, 2*time.Second, 10*time.Millisecond)
	return e
}

func basicSpec(name string) CreateTableSpec {
	return CreateTableSpec{
		Name:         name,
		Columns:      []types.ColumnDesc{{Name: "k", Type: types.ColTypeString}, {Name: "v", Type: types.ColTypeInt64}},
		ColumnKeys:   []types.ColumnKey{{IndexName: "primary", ColName: []string{"k"}}},
		TTL:          types.TTLDesc{Type: types.TTLLatest},
		PartitionNum: 2,
		ReplicaNum:   1,
	}
}

func TestCreateAndDropTable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a", "b"})

	tbl, err := cat.CreateTable(ctx, basicSpec("orders"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tbl.Tid)
	assert.Len(t, tbl.TablePartition, 2)
	for _, tp := range tbl.TablePartition {
		assert.NotNil(t, tp.Leader())
	}

	_, err = cat.CreateTable(ctx, basicSpec("orders"))
	assert.ErrorIs(t, err, ErrTableAlreadyExists)

	require.NoError(t, cat.DropTable(ctx, "", "orders"))
	_, err = cat.GetTable("", "orders")
	assert.ErrorIs(t, err, ErrTableNotExist)
}

func TestCreateTableRejectsFloatIndex(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a"})

	spec := basicSpec("metrics")
	spec.Columns = append(spec.Columns, types.ColumnDesc{Name: "score", Type: types.ColTypeFloat})
	spec.ColumnKeys = []types.ColumnKey{{IndexName: "by_score", ColName: []string{"score"}}}
	spec.ReplicaNum = 1

	_, err := cat.CreateTable(ctx, spec)
	assert.Error(t, err)
}

func TestCreateTableInsufficientReplicas(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a"})

	spec := basicSpec("wide")
	spec.ReplicaNum = 2

	_, err := cat.CreateTable(ctx, spec)
	assert.Error(t, err)
}

func TestAddFieldRecordsColumnAndVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a"})

	_, err := cat.CreateTable(ctx, basicSpec("wide"))
	require.NoError(t, err)

	tbl, err := cat.AddField(ctx, "", "wide", types.ColumnDesc{Name: "extra1", Type: types.ColTypeString})
	require.NoError(t, err)
	assert.Len(t, tbl.AddedColumns, 1)
	assert.Len(t, tbl.VersionPairs, 1)
}

func TestDatabaseLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a"})

	require.NoError(t, cat.CreateDatabase(ctx, "analytics"))
	assert.ErrorIs(t, cat.CreateDatabase(ctx, "analytics"), ErrDatabaseAlreadyExists)

	spec := basicSpec("events")
	spec.Db = "analytics"
	_, err := cat.CreateTable(ctx, spec)
	require.NoError(t, err)

	assert.ErrorIs(t, cat.DropDatabase(ctx, "analytics"), ErrDatabaseNotEmpty)
	require.NoError(t, cat.DropTable(ctx, "analytics", "events"))
	require.NoError(t, cat.DropDatabase(ctx, "analytics"))
}

func TestProcedureLifecycleBlocksDropTable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	cat := New(store, fixedHealthy{"a"})

	_, err := cat.CreateTable(ctx, basicSpec("orders"))
	require.NoError(t, err)

	proc := types.Procedure{Db: "", Name: "report", SQL: "select * from orders", ReferencedTables: []string{"orders"}}
	require.NoError(t, cat.CreateProcedure(ctx, proc))
	assert.Error(t, cat.CreateProcedure(ctx, proc))

	err = cat.DropTable(ctx, "", "orders")
	require.Error(t, err)

	require.NoError(t, cat.DropProcedure(ctx, "", "report"))
	require.NoError(t, cat.DropTable(ctx, "", "orders"))

	_, err = cat.GetProcedure("", "report")
	assert.Error(t, err)
}
