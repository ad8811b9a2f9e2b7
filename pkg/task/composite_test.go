package task

import (
	"context"
	"testing"

	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	endpoint string
	offset   uint64
	failFollow bool
}

func (f *fakeClient) MakeSnapshot(ctx context.Context, tid uint64, pid int) error    { return nil }
func (f *fakeClient) PauseSnapshot(ctx context.Context, tid uint64, pid int) error   { return nil }
func (f *fakeClient) RecoverSnapshot(ctx context.Context, tid uint64, pid int) error { return nil }
func (f *fakeClient) SendSnapshot(ctx context.Context, tid, remoteTid uint64, pid int, dst string) error {
	return nil
}
func (f *fakeClient) LoadTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (f *fakeClient) AddReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (f *fakeClient) DelReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	return nil
}
func (f *fakeClient) DropTable(ctx context.Context, tid uint64, pid int) error { return nil }
func (f *fakeClient) ChangeRole(ctx context.Context, tid uint64, pid int, toLeader bool, term uint64, followers []string) error {
	return nil
}
func (f *fakeClient) GetTermPair(ctx context.Context, tid uint64, pid int) (uint64, uint64, error) {
	return 0, f.offset, nil
}
func (f *fakeClient) GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error {
	if f.failFollow {
		return assert.AnError
	}
	return nil
}
func (f *fakeClient) DeleteBinlog(ctx context.Context, tid uint64, pid int) error           { return nil }
func (f *fakeClient) UpdateTTL(ctx context.Context, tid uint64, ttlSeconds uint64) error    { return nil }
func (f *fakeClient) DumpIndexData(ctx context.Context, tid uint64, pid int, idx string) error {
	return nil
}
func (f *fakeClient) SendIndexData(ctx context.Context, tid uint64, pid int, idx, dst string) error {
	return nil
}
func (f *fakeClient) ExtractIndexData(ctx context.Context, tid uint64, pid int, idx string) error {
	return nil
}
func (f *fakeClient) LoadIndexData(ctx context.Context, tid uint64, pid int, idx string) error {
	return nil
}
func (f *fakeClient) AddIndex(ctx context.Context, tid uint64, pid int, idx string, cols []string) error {
	return nil
}
func (f *fakeClient) GetTaskStatus(ctx context.Context, opIDs []uint64) (map[uint64]string, error) {
	return nil, nil
}
func (f *fakeClient) CancelTask(ctx context.Context, opID uint64) error { return nil }
func (f *fakeClient) DeleteOp(ctx context.Context, opID uint64) error   { return nil }
func (f *fakeClient) PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error {
	return nil
}
func (f *fakeClient) GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error) {
	return types.TableStatus{}, nil
}

type fakeDialer map[string]*fakeClient

func (d fakeDialer) Dial(endpoint string) (TabletClient, error) {
	c, ok := d[endpoint]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}

func TestSelectLeaderPicksHighestOffset(t *testing.T) {
	dialer := fakeDialer{
		"a": {endpoint: "a", offset: 10},
		"b": {endpoint: "b", offset: 25},
		"c": {endpoint: "c", offset: 5},
	}
	ep, term, err := SelectLeader(context.Background(), dialer, 1, 0, []string{"a", "b", "c"}, 4, "")
	require.NoError(t, err)
	assert.Equal(t, "b", ep)
	assert.Equal(t, uint64(6), term)
}

func TestSelectLeaderSkipsUnreachable(t *testing.T) {
	dialer := fakeDialer{
		"a": {endpoint: "a", offset: 10},
	}
	ep, _, err := SelectLeader(context.Background(), dialer, 1, 0, []string{"a", "ghost"}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "a", ep)
}

func TestUpdateLeaderInfo(t *testing.T) {
	tp := &types.TablePartition{
		Pid: 0,
		PartitionMeta: []types.PartitionMeta{
			{Endpoint: "a", IsLeader: true, IsAlive: true, Offset: 100},
			{Endpoint: "b", IsLeader: false, IsAlive: true, Offset: 99},
		},
	}
	to := UpdateLeaderInfo(tp, "a", "b", 5)
	assert.Equal(t, uint64(5), to.Term)
	assert.Equal(t, uint64(100), to.StartOffset)
	assert.False(t, tp.PartitionMeta[0].IsLeader)
	assert.False(t, tp.PartitionMeta[0].IsAlive)
	assert.True(t, tp.PartitionMeta[1].IsLeader)
	assert.Len(t, tp.TermOffset, 1)
}

func TestBarrierFiresOnce(t *testing.T) {
	fired := 0
	b := NewBarrier(3, func() { fired++ })
	b.Arrive()
	b.Arrive()
	assert.Equal(t, 0, fired)
	b.Arrive()
	assert.Equal(t, 1, fired)
}

func TestBinlogSynced(t *testing.T) {
	synced, stop := BinlogSynced(SyncProgress{LeaderOffset: 100, FollowerOffset: 99}, 2)
	assert.True(t, synced)
	assert.True(t, stop)

	synced, stop = BinlogSynced(SyncProgress{LeaderOffset: 100, FollowerOffset: 50}, 2)
	assert.False(t, synced)
	assert.False(t, stop)

	_, stop = BinlogSynced(SyncProgress{FollowerGone: true}, 2)
	assert.True(t, stop)
}
