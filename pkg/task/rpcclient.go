package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "github.com/cuemby/tablestore/pkg/rpcwire"
	"github.com/cuemby/tablestore/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// tabletServiceName is the tablet RPC surface's gRPC service name.
// Tablets themselves are out of scope for this repository (spec
// §1's "no storage engine"); this client only needs the wire contract
// a tablet process would register a matching grpc.ServiceDesc under,
// the same JSON-codec approach pkg/rpcserver uses for the admin
// surface so the two gRPC surfaces this coordinator drives share one
// transport story.
const tabletServiceName = "tablestore.Tablet"

const dialTimeout = 5 * time.Second

// GRPCDialer is the pkg/client-style Dialer implementation: one cached
// grpc.ClientConn per endpoint, reused across calls the way the
// teacher's client package reuses its single mTLS connection rather
// than dialing per RPC.
type GRPCDialer struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCDialer returns a Dialer with no transport security, for
// deployments that run the tablet surface on a private network; the
// dialer has no TLS option.
func NewGRPCDialer() *GRPCDialer {
	return &GRPCDialer{conns: make(map[string]*grpc.ClientConn)}
}

// Dial returns a cached TabletClient for endpoint, creating the
// connection on first use.
func (d *GRPCDialer) Dial(endpoint string) (TabletClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.conns[endpoint]
	if !ok {
		var err error
		conn, err = grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
		)
		if err != nil {
			return nil, fmt.Errorf("task: dial %s: %w", endpoint, err)
		}
		d.conns[endpoint] = conn
	}
	return &grpcTabletClient{conn: conn}, nil
}

// Close closes every cached connection.
func (d *GRPCDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for endpoint, conn := range d.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("task: close %s: %w", endpoint, err)
		}
	}
	d.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

type grpcTabletClient struct {
	conn *grpc.ClientConn
}

func (c *grpcTabletClient) call(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, "/"+tabletServiceName+"/"+method, req, resp)
}

type pidReq struct {
	Tid uint64 `json:"tid"`
	Pid int    `json:"pid"`
}

type emptyResp struct{}

func (c *grpcTabletClient) MakeSnapshot(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "MakeSnapshot", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) PauseSnapshot(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "PauseSnapshot", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) RecoverSnapshot(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "RecoverSnapshot", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) SendSnapshot(ctx context.Context, tid, remoteTid uint64, pid int, dst string) error {
	req := struct {
		Tid       uint64 `json:"tid"`
		RemoteTid uint64 `json:"remote_tid"`
		Pid       int    `json:"pid"`
		Dst       string `json:"dst"`
	}{tid, remoteTid, pid, dst}
	return c.call(ctx, "SendSnapshot", &req, &emptyResp{})
}

func (c *grpcTabletClient) LoadTable(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "LoadTable", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) AddReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	req := struct {
		Tid      uint64 `json:"tid"`
		Pid      int    `json:"pid"`
		Endpoint string `json:"endpoint"`
	}{tid, pid, endpoint}
	return c.call(ctx, "AddReplica", &req, &emptyResp{})
}

func (c *grpcTabletClient) DelReplica(ctx context.Context, tid uint64, pid int, endpoint string) error {
	req := struct {
		Tid      uint64 `json:"tid"`
		Pid      int    `json:"pid"`
		Endpoint string `json:"endpoint"`
	}{tid, pid, endpoint}
	return c.call(ctx, "DelReplica", &req, &emptyResp{})
}

func (c *grpcTabletClient) DropTable(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "DropTable", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) ChangeRole(ctx context.Context, tid uint64, pid int, toLeader bool, term uint64, followers []string) error {
	req := struct {
		Tid       uint64   `json:"tid"`
		Pid       int      `json:"pid"`
		ToLeader  bool     `json:"to_leader"`
		Term      uint64   `json:"term"`
		Followers []string `json:"followers"`
	}{tid, pid, toLeader, term, followers}
	return c.call(ctx, "ChangeRole", &req, &emptyResp{})
}

func (c *grpcTabletClient) GetTermPair(ctx context.Context, tid uint64, pid int) (uint64, uint64, error) {
	resp := struct {
		Term   uint64 `json:"term"`
		Offset uint64 `json:"offset"`
	}{}
	if err := c.call(ctx, "GetTermPair", &pidReq{Tid: tid, Pid: pid}, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Term, resp.Offset, nil
}

func (c *grpcTabletClient) GetManifest(ctx context.Context, tid uint64, pid int) ([]byte, error) {
	resp := struct {
		Manifest []byte `json:"manifest"`
	}{}
	if err := c.call(ctx, "GetManifest", &pidReq{Tid: tid, Pid: pid}, &resp); err != nil {
		return nil, err
	}
	return resp.Manifest, nil
}

func (c *grpcTabletClient) FollowOfNoOne(ctx context.Context, tid uint64, pid int, term uint64) error {
	req := struct {
		Tid  uint64 `json:"tid"`
		Pid  int    `json:"pid"`
		Term uint64 `json:"term"`
	}{tid, pid, term}
	return c.call(ctx, "FollowOfNoOne", &req, &emptyResp{})
}

func (c *grpcTabletClient) DeleteBinlog(ctx context.Context, tid uint64, pid int) error {
	return c.call(ctx, "DeleteBinlog", &pidReq{Tid: tid, Pid: pid}, &emptyResp{})
}

func (c *grpcTabletClient) UpdateTTL(ctx context.Context, tid uint64, ttlSeconds uint64) error {
	req := struct {
		Tid        uint64 `json:"tid"`
		TTLSeconds uint64 `json:"ttl_seconds"`
	}{tid, ttlSeconds}
	return c.call(ctx, "UpdateTTL", &req, &emptyResp{})
}

func (c *grpcTabletClient) DumpIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	req := struct {
		Tid       uint64 `json:"tid"`
		Pid       int    `json:"pid"`
		IndexName string `json:"index_name"`
	}{tid, pid, indexName}
	return c.call(ctx, "DumpIndexData", &req, &emptyResp{})
}

func (c *grpcTabletClient) SendIndexData(ctx context.Context, tid uint64, pid int, indexName, dst string) error {
	req := struct {
		Tid       uint64 `json:"tid"`
		Pid       int    `json:"pid"`
		IndexName string `json:"index_name"`
		Dst       string `json:"dst"`
	}{tid, pid, indexName, dst}
	return c.call(ctx, "SendIndexData", &req, &emptyResp{})
}

func (c *grpcTabletClient) ExtractIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	req := struct {
		Tid       uint64 `json:"tid"`
		Pid       int    `json:"pid"`
		IndexName string `json:"index_name"`
	}{tid, pid, indexName}
	return c.call(ctx, "ExtractIndexData", &req, &emptyResp{})
}

func (c *grpcTabletClient) LoadIndexData(ctx context.Context, tid uint64, pid int, indexName string) error {
	req := struct {
		Tid       uint64 `json:"tid"`
		Pid       int    `json:"pid"`
		IndexName string `json:"index_name"`
	}{tid, pid, indexName}
	return c.call(ctx, "LoadIndexData", &req, &emptyResp{})
}

func (c *grpcTabletClient) AddIndex(ctx context.Context, tid uint64, pid int, indexName string, columns []string) error {
	req := struct {
		Tid       uint64   `json:"tid"`
		Pid       int      `json:"pid"`
		IndexName string   `json:"index_name"`
		Columns   []string `json:"columns"`
	}{tid, pid, indexName, columns}
	return c.call(ctx, "AddIndex", &req, &emptyResp{})
}

func (c *grpcTabletClient) GetTaskStatus(ctx context.Context, opIDs []uint64) (map[uint64]string, error) {
	req := struct {
		OpIDs []uint64 `json:"op_ids"`
	}{opIDs}
	resp := struct {
		Status map[uint64]string `json:"status"`
	}{}
	if err := c.call(ctx, "GetTaskStatus", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

func (c *grpcTabletClient) CancelTask(ctx context.Context, opID uint64) error {
	req := struct {
		OpID uint64 `json:"op_id"`
	}{opID}
	return c.call(ctx, "CancelTask", &req, &emptyResp{})
}

func (c *grpcTabletClient) DeleteOp(ctx context.Context, opID uint64) error {
	req := struct {
		OpID uint64 `json:"op_id"`
	}{opID}
	return c.call(ctx, "DeleteOp", &req, &emptyResp{})
}

func (c *grpcTabletClient) PushRealEndpointMap(ctx context.Context, endpoint string, m map[string]string) error {
	req := struct {
		Endpoint string            `json:"endpoint"`
		Map      map[string]string `json:"map"`
	}{endpoint, m}
	return c.call(ctx, "PushRealEndpointMap", &req, &emptyResp{})
}

func (c *grpcTabletClient) GetTableStatus(ctx context.Context, tid uint64, pid int) (types.TableStatus, error) {
	resp := types.TableStatus{}
	if err := c.call(ctx, "GetTableStatus", &pidReq{Tid: tid, Pid: pid}, &resp); err != nil {
		return types.TableStatus{}, err
	}
	return resp, nil
}
