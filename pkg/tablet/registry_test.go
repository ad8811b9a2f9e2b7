package tablet

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/assert"
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

func TestRegistryDiscoversNodes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, paths.Node("tablet-a"), nil))

	reg := NewRegistry(store, nil, nil, 200*time.Millisecond)
	require.NoError(t, reg.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := reg.GetHealthy("tablet-a")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestRegistryDebouncesOffline(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, paths.Node("tablet-a"), nil))

	reg := NewRegistry(store, nil, nil, 150*time.Millisecond)
	var went types.TabletState
	reg.OnOffline(func(endpoint string) { went = types.TabletOffline })
	require.NoError(t, reg.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := reg.GetHealthy("tablet-a")
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, store.Delete(ctx, paths.Node("tablet-a")))

	_, ok := reg.GetHealthy("tablet-a")
	assert.False(t, ok, "should be marked offline immediately on disappearance")

	require.Eventually(t, func() bool {
		return went == types.TabletOffline
	}, time.Second, 10*time.Millisecond)
}
