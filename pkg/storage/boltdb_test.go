package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("/table/table_index")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put("/table/table_index", []byte("1")))

	v, ok, err := s.Get("/table/table_index")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	require.NoError(t, s.Delete("/table/table_index"))
	_, ok, err = s.Get("/table/table_index")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChildren(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("/op/op_data/1", []byte("a")))
	require.NoError(t, s.Put("/op/op_data/2", []byte("b")))
	require.NoError(t, s.Put("/op/op_data/10", []byte("c")))
	require.NoError(t, s.Put("/op/op_index", []byte("11")))

	children, err := s.Children("/op/op_data")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "10"}, children)

	children, err = s.Children("/op")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"op_data", "op_index"}, children)
}

func TestSnapshotRestore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("/a", []byte("1")))
	require.NoError(t, s.Put("/b", []byte("2")))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	require.NoError(t, s.Delete("/a"))
	require.NoError(t, s.Restore(snap))

	v, ok, err := s.Get("/a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))
}
