package task

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/tablestore/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// fakeTabletServer answers every tablet RPC method with a canned
// response, enough to exercise grpcTabletClient's marshaling without
// a real tablet process (out of scope per the system this coordinates).
type fakeTabletServer struct{}

func (fakeTabletServer) handle(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var req pidReq
	_ = dec(&req)
	return &emptyResp{}, nil
}

func startFakeTabletServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: tabletServiceName,
		HandlerType: (*fakeTabletServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "MakeSnapshot", Handler: fakeTabletServer{}.handle},
			{MethodName: "GetTermPair", Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				var req pidReq
				_ = dec(&req)
				return &struct {
					Term   uint64 `json:"term"`
					Offset uint64 `json:"offset"`
				}{Term: 7, Offset: 42}, nil
			}},
			{MethodName: "GetTableStatus", Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				var req pidReq
				_ = dec(&req)
				return &types.TableStatus{RecordCnt: 99}, nil
			}},
		},
	}, fakeTabletServer{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGRPCDialerCachesConnections(t *testing.T) {
	d := NewGRPCDialer()
	c1, err := d.Dial("127.0.0.1:1")
	require.NoError(t, err)
	c2, err := d.Dial("127.0.0.1:1")
	require.NoError(t, err)
	require.Same(t, c1.(*grpcTabletClient).conn, c2.(*grpcTabletClient).conn)
	require.NoError(t, d.Close())
}

func TestGRPCTabletClientMakeSnapshot(t *testing.T) {
	addr := startFakeTabletServer(t)
	d := NewGRPCDialer()
	defer d.Close()

	client, err := d.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, client.MakeSnapshot(context.Background(), 1, 0))
}

func TestGRPCTabletClientGetTermPair(t *testing.T) {
	addr := startFakeTabletServer(t)
	d := NewGRPCDialer()
	defer d.Close()

	client, err := d.Dial(addr)
	require.NoError(t, err)
	term, offset, err := client.GetTermPair(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), term)
	require.Equal(t, uint64(42), offset)
}

func TestGRPCTabletClientGetTableStatus(t *testing.T) {
	addr := startFakeTabletServer(t)
	d := NewGRPCDialer()
	defer d.Close()

	client, err := d.Dial(addr)
	require.NoError(t, err)
	st, err := client.GetTableStatus(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(99), st.RecordCnt)
}
