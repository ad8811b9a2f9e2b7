package failover

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysOn struct{}

func (alwaysOn) AutoFailoverEnabled() bool { return true }

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

func TestFlipAliveRefusesSoleReplica(t *testing.T) {
	store := newStore(t)
	cat := catalog.New(store, fixedHealthy{"a"})
	engine := op.New(op.Config{MaxConcurrency: 1}, store, nil, nil)
	c := New(cat, engine, alwaysOn{})

	tp := &types.TablePartition{
		Pid:           0,
		PartitionMeta: []types.PartitionMeta{{Endpoint: "a", IsLeader: true, IsAlive: true}},
	}
	c.flipAlive(tp, "a", true)
	assert.True(t, tp.PartitionMeta[0].IsAlive, "sole replica must not be flipped unreadable")

	tp2 := &types.TablePartition{
		Pid: 0,
		PartitionMeta: []types.PartitionMeta{
			{Endpoint: "a", IsLeader: true, IsAlive: true},
			{Endpoint: "b", IsLeader: false, IsAlive: true},
		},
	}
	c.flipAlive(tp2, "a", false)
	assert.False(t, tp2.PartitionMeta[0].IsAlive)
}
