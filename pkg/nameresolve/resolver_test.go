package nameresolve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
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

func newTestStore(t *testing.T) *metastore.Embedded {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	store, err := metastore.NewEmbedded(metastore.Config{
		NodeID:   "n1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
	}, broker)
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap())
	t.Cleanup(func() { store.Close(); broker.Stop() })
	return store
}

func TestResolverSyncsFromStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, paths.NameMap("tablet-a"), []byte("10.0.0.1:9000")))
	require.NoError(t, store.Set(ctx, paths.SdkMap("tablet-a"), []byte("sdk.example:9000")))

	r := New(store, "ts")
	require.NoError(t, r.Start(ctx))

	real, ok := r.RealEndpoint("tablet-a")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9000", real)

	sdk, ok := r.SdkEndpoint("tablet-a")
	require.True(t, ok)
	require.Equal(t, "sdk.example:9000", sdk)

	_, ok = r.RealEndpoint("missing")
	require.False(t, ok)
}

func TestResolverUpdate(t *testing.T) {
	store := newTestStore(t)
	r := New(store, "ts")
	require.NoError(t, r.Start(context.Background()))

	r.Update(map[string]string{"tablet-b": "10.0.0.2:9001"})
	real, ok := r.RealEndpoint("tablet-b")
	require.True(t, ok)
	require.Equal(t, "10.0.0.2:9001", real)
}

func TestResolverReactsToWatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	r := New(store, "ts")
	require.NoError(t, r.Start(ctx))

	require.NoError(t, store.Set(ctx, paths.NameMap("tablet-c"), []byte("10.0.0.3:9002")))

	require.Eventually(t, func() bool {
		_, ok := r.RealEndpoint("tablet-c")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServerResolveHostIP(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, paths.NameMap("tablet-d"), []byte("10.0.0.4:9003")))

	r := New(store, "ts")
	require.NoError(t, r.Start(ctx))

	s := NewServer(r, Config{Domain: "ts"})
	rr, err := s.resolve("tablet-d.ts.")
	require.NoError(t, err)
	require.Contains(t, rr.String(), "10.0.0.4")
}
