// Package client is the admin client SDK (spec §6's command surface
// from the caller's side): a thin wrapper around grpc.ClientConn.Invoke
// against pkg/rpcserver's hand-rolled service, using pkg/rpcwire's JSON
// codec in place of generated protobuf stubs. Modeled on the teacher's
// pkg/client.Client (connection management, mTLS, one method per
// command, 10s per-call timeout) with the tablet RPC surface and
// service/task/node/secret/volume/ingress operations dropped, since
// only the admin surface is in scope here (spec §1's Non-goals).
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/rpcserver"
	_ "github.com/cuemby/tablestore/pkg/rpcwire"
	"github.com/cuemby/tablestore/pkg/security"
	"github.com/cuemby/tablestore/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultTimeout = 10 * time.Second

// Client dials a single nameserver admin endpoint. A follower's RPCs
// fail with kNameserverIsNotLeader (spec §6); callers are expected to
// retry against whatever address they learn the leader holds.
type Client struct {
	conn *grpc.ClientConn
}

// New dials addr without transport security.
func New(addr string) (*Client, error) {
	return dial(addr, insecure.NewCredentials())
}

// NewWithTLS dials addr authenticating with the node certificate/key/CA
// in certDir, loaded via security.LoadTLSConfig.
func NewWithTLS(addr, certDir string) (*Client, error) {
	tlsCfg, err := security.LoadTLSConfig(certDir, false)
	if err != nil {
		return nil, fmt.Errorf("client: load TLS config: %w", err)
	}
	return dial(addr, credentials.NewTLS(tlsCfg))
}

func dial(addr string, creds credentials.TransportCredentials) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	fullMethod := "/" + rpcserver.ServiceName + "/" + method
	return c.conn.Invoke(ctx, fullMethod, req, resp)
}

// checkResponse turns a non-kOk adminapi.Response into a Go error.
func checkResponse(code types.ErrorCode, message string) error {
	if code == types.ErrOK {
		return nil
	}
	if message == "" {
		message = code.String()
	}
	return fmt.Errorf("%s: %s", code, message)
}

func (c *Client) CreateDatabase(db string) error {
	var resp adminapi.Response
	if err := c.call("CreateDatabase", &adminapi.CreateDatabaseRequest{Db: db}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) DropDatabase(db string) error {
	var resp adminapi.Response
	if err := c.call("DropDatabase", &adminapi.DropDatabaseRequest{Db: db}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowDatabase() ([]*types.Database, error) {
	var resp adminapi.ShowDatabaseResponse
	if err := c.call("ShowDatabase", &adminapi.ShowDatabaseRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Databases, checkResponse(resp.Code, resp.Message)
}

func (c *Client) CreateTable(req adminapi.CreateTableRequest) (*types.Table, error) {
	var resp adminapi.CreateTableResponse
	if err := c.call("CreateTable", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Table, checkResponse(resp.Code, resp.Message)
}

func (c *Client) DropTable(db, name string) error {
	var resp adminapi.Response
	if err := c.call("DropTable", &adminapi.DropTableRequest{Db: db, Name: name}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) AddTableField(req adminapi.AddTableFieldRequest) error {
	var resp adminapi.Response
	if err := c.call("AddTableField", &req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) UpdateTTL(req adminapi.UpdateTTLRequest) error {
	var resp adminapi.Response
	if err := c.call("UpdateTTL", &req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) AddIndex(req adminapi.AddIndexRequest) error {
	var resp adminapi.Response
	if err := c.call("AddIndex", &req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) DeleteIndex(req adminapi.DeleteIndexRequest) error {
	var resp adminapi.Response
	if err := c.call("DeleteIndex", &req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowTable(db, name string) (*types.Table, error) {
	var resp adminapi.ShowTableResponse
	if err := c.call("ShowTable", &adminapi.ShowTableRequest{Db: db, Name: name}, &resp); err != nil {
		return nil, err
	}
	return resp.Table, checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowCatalog(db string) ([]*types.Table, error) {
	var resp adminapi.ShowCatalogResponse
	if err := c.call("ShowCatalog", &adminapi.ShowCatalogRequest{Db: db}, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowTablet() ([]*types.Tablet, error) {
	var resp adminapi.ShowTabletResponse
	if err := c.call("ShowTablet", &adminapi.ShowTabletRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Tablets, checkResponse(resp.Code, resp.Message)
}

// opCommand runs any of the admin commands that enqueue an OP rather
// than mutate state synchronously, returning the new op's ID.
func (c *Client) opCommand(method string, req interface{}) (uint64, error) {
	var resp adminapi.OpEnqueuedResponse
	if err := c.call(method, req, &resp); err != nil {
		return 0, err
	}
	return resp.OpID, checkResponse(resp.Code, resp.Message)
}

func (c *Client) AddReplicaNS(req adminapi.AddReplicaNSRequest) (uint64, error) {
	return c.opCommand("AddReplicaNS", &req)
}

func (c *Client) DelReplicaNS(req adminapi.DelReplicaNSRequest) (uint64, error) {
	return c.opCommand("DelReplicaNS", &req)
}

func (c *Client) Migrate(req adminapi.MigrateRequest) (uint64, error) {
	return c.opCommand("Migrate", &req)
}

func (c *Client) ChangeLeader(req adminapi.ChangeLeaderRequest) (uint64, error) {
	return c.opCommand("ChangeLeader", &req)
}

func (c *Client) RecoverEndpoint(req adminapi.RecoverEndpointRequest) (uint64, error) {
	return c.opCommand("RecoverEndpoint", &req)
}

func (c *Client) RecoverTable(req adminapi.RecoverTableRequest) (uint64, error) {
	return c.opCommand("RecoverTable", &req)
}

func (c *Client) OfflineEndpoint(endpoint string) error {
	var resp adminapi.Response
	if err := c.call("OfflineEndpoint", &adminapi.OfflineEndpointRequest{Endpoint: endpoint}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) MakeSnapshotNS(req adminapi.MakeSnapshotNSRequest) (uint64, error) {
	return c.opCommand("MakeSnapshotNS", &req)
}

func (c *Client) CancelOP(opID uint64) error {
	var resp adminapi.Response
	if err := c.call("CancelOP", &adminapi.CancelOPRequest{OpID: opID}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowOPStatus(opID uint64) (*types.OPData, error) {
	var resp adminapi.ShowOPStatusResponse
	if err := c.call("ShowOPStatus", &adminapi.ShowOPStatusRequest{OpID: opID}, &resp); err != nil {
		return nil, err
	}
	return resp.Op, checkResponse(resp.Code, resp.Message)
}

func (c *Client) ListOPs() ([]*types.OPData, error) {
	var resp adminapi.ListOPsResponse
	if err := c.call("ListOPs", &adminapi.ListOPsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Ops, checkResponse(resp.Code, resp.Message)
}

func (c *Client) ConfSet(key, value string) error {
	var resp adminapi.Response
	if err := c.call("ConfSet", &adminapi.ConfSetRequest{Key: key, Value: value}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ConfGet(key string) (string, error) {
	var resp adminapi.ConfGetResponse
	if err := c.call("ConfGet", &adminapi.ConfGetRequest{Key: key}, &resp); err != nil {
		return "", err
	}
	return resp.Value, checkResponse(resp.Code, resp.Message)
}

func (c *Client) AddReplicaCluster(info types.ClusterInfo) error {
	var resp adminapi.Response
	if err := c.call("AddReplicaCluster", &adminapi.AddReplicaClusterRequest{Info: info}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) RemoveReplicaCluster(alias string) error {
	var resp adminapi.Response
	if err := c.call("RemoveReplicaCluster", &adminapi.RemoveReplicaClusterRequest{Alias: alias}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowReplicaCluster() ([]*types.ClusterInfo, error) {
	var resp adminapi.ShowReplicaClusterResponse
	if err := c.call("ShowReplicaCluster", &adminapi.ShowReplicaClusterRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Clusters, checkResponse(resp.Code, resp.Message)
}

func (c *Client) SwitchMode(zone types.ZoneInfo) error {
	var resp adminapi.Response
	if err := c.call("SwitchMode", &adminapi.SwitchModeRequest{Zone: zone}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) SyncTable(req adminapi.SyncTableRequest) error {
	var resp adminapi.Response
	if err := c.call("SyncTable", &req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) CreateProcedure(proc types.Procedure) error {
	var resp adminapi.Response
	if err := c.call("CreateProcedure", &adminapi.CreateProcedureRequest{Procedure: proc}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) DropProcedure(db, name string) error {
	var resp adminapi.Response
	if err := c.call("DropProcedure", &adminapi.DropProcedureRequest{Db: db, Name: name}, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) SetSdkEndpoint(endpoint, sdkEndpoint string) error {
	var resp adminapi.Response
	req := &adminapi.SetSdkEndpointRequest{Endpoint: endpoint, SdkEndpoint: sdkEndpoint}
	if err := c.call("SetSdkEndpoint", req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}

func (c *Client) ShowSdkEndpoint() (map[string]string, error) {
	var resp adminapi.ShowSdkEndpointResponse
	if err := c.call("ShowSdkEndpoint", &adminapi.ShowSdkEndpointRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Endpoints, checkResponse(resp.Code, resp.Message)
}

func (c *Client) ConnectZK(zkEndpoints, zkPath string) error {
	var resp adminapi.Response
	req := &adminapi.ConnectZKRequest{ZkEndpoints: zkEndpoints, ZkPath: zkPath}
	if err := c.call("ConnectZK", req, &resp); err != nil {
		return err
	}
	return checkResponse(resp.Code, resp.Message)
}
