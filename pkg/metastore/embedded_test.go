package metastore

import (
	"context"
	"net"
	"testing"
	"time"

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

func newBootstrapped(t *testing.T) *Embedded {
	t.Helper()
	e, err := NewEmbedded(Config{
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

func TestEmbeddedCreateGetDelete(t *testing.T) {
	e := newBootstrapped(t)
	ctx := context.Background()

	_, err := e.Get(ctx, "/db/catalog/orders")
	assert.Error(t, err)

	require.NoError(t, e.Create(ctx, "/db/catalog/orders", []byte("tid=1")))
	v, err := e.Get(ctx, "/db/catalog/orders")
	require.NoError(t, err)
	assert.Equal(t, "tid=1", string(v))

	assert.Error(t, e.Create(ctx, "/db/catalog/orders", []byte("dup")))

	require.NoError(t, e.Delete(ctx, "/db/catalog/orders"))
	ok, err := e.Exists(ctx, "/db/catalog/orders")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbeddedIncrement(t *testing.T) {
	e := newBootstrapped(t)
	ctx := context.Background()

	n1, err := e.Increment(ctx, "/table/tid_seq")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n1)

	n2, err := e.Increment(ctx, "/table/tid_seq")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n2)
}

func TestEmbeddedChildrenAndWatch(t *testing.T) {
	e := newBootstrapped(t)
	ctx := context.Background()

	notified := make(chan []string, 1)
	require.NoError(t, e.WatchChildren("/op/op_data", func(children []string) {
		notified <- children
	}))

	require.NoError(t, e.Set(ctx, "/op/op_data/1", []byte("a")))

	select {
	case children := <-notified:
		assert.Contains(t, children, "1")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for children watch callback")
	}
}

func TestEmbeddedDistributedLockFiresOnAcquire(t *testing.T) {
	e := newBootstrapped(t)

	acquired := make(chan struct{}, 1)
	require.NoError(t, e.DistributedLock("/coordinator/leader", func() {
		acquired <- struct{}{}
	}, func() {}))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lock acquisition callback")
	}
}
