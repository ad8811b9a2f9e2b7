package main

import (
	"context"
	"fmt"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/client"
	"github.com/cuemby/tablestore/pkg/remotecluster"
	"github.com/cuemby/tablestore/pkg/types"
)

// grpcPeerDialer implements remotecluster.PeerDialer against a real
// peer coordinator, the same admin client SDK cmd/nsctl uses against
// this cluster's own leader. Kept out of pkg/remotecluster itself:
// pkg/client imports pkg/rpcserver for its service name, and
// pkg/rpcserver already imports pkg/remotecluster, so wiring the two
// together has to happen at the binary, not inside either package.
type grpcPeerDialer struct{}

func (grpcPeerDialer) DialPeer(info *types.ClusterInfo) (remotecluster.Peer, error) {
	endpoint := info.ZkEndpoints
	if endpoint == "" {
		return nil, fmt.Errorf("peer %q has no endpoint configured", info.Alias)
	}
	c, err := client.New(endpoint)
	if err != nil {
		return nil, err
	}
	return grpcPeer{client: c, endpoint: endpoint}, nil
}

type grpcPeer struct {
	client   *client.Client
	endpoint string
}

func (p grpcPeer) ShowAllTable(ctx context.Context) ([]*types.Table, error) {
	var all []*types.Table
	deflt, err := p.client.ShowCatalog("")
	if err != nil {
		return nil, err
	}
	all = append(all, deflt...)

	dbs, err := p.client.ShowDatabase()
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		tables, err := p.client.ShowCatalog(db.Name)
		if err != nil {
			return nil, err
		}
		all = append(all, tables...)
	}
	return all, nil
}

func (p grpcPeer) LeaderEndpoint(ctx context.Context) (string, error) {
	return p.endpoint, nil
}

func (p grpcPeer) CreateTableRemote(ctx context.Context, req adminapi.CreateTableRequest) error {
	_, err := p.client.CreateTable(req)
	return err
}

func (p grpcPeer) AddReplicaNSRemote(ctx context.Context, req adminapi.AddReplicaNSRequest) error {
	_, err := p.client.AddReplicaNS(req)
	return err
}

func (p grpcPeer) DelReplicaNSRemote(ctx context.Context, req adminapi.DelReplicaNSRequest) error {
	_, err := p.client.DelReplicaNS(req)
	return err
}
