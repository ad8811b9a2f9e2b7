package rpcserver

import (
	"context"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
)

func showTablet(ctx context.Context, s *Server, req *adminapi.ShowTabletRequest) (*adminapi.ShowTabletResponse, error) {
	return &adminapi.ShowTabletResponse{
		Response: adminapi.Response{Code: types.ErrOK},
		Tablets:  s.coord.Tablets.List(),
	}, nil
}

// confSet's only recognized key is "auto_failover" (spec §6); any
// other key is rejected rather than silently accepted into a config
// store nothing ever reads.
func confSet(ctx context.Context, s *Server, req *adminapi.ConfSetRequest) (*adminapi.Response, error) {
	if req.Key != "auto_failover" {
		return &adminapi.Response{Code: types.ErrInvalidParameter, Message: "unknown config key: " + req.Key}, nil
	}
	enabled := req.Value == "true" || req.Value == "1"
	if err := s.coord.SetAutoFailover(ctx, enabled); err != nil {
		code, msg := errorCode(err)
		return &adminapi.Response{Code: code, Message: msg}, nil
	}
	return &adminapi.Response{Code: types.ErrOK}, nil
}

func confGet(ctx context.Context, s *Server, req *adminapi.ConfGetRequest) (*adminapi.ConfGetResponse, error) {
	if req.Key != "auto_failover" {
		return &adminapi.ConfGetResponse{Response: adminapi.Response{Code: types.ErrInvalidParameter, Message: "unknown config key: " + req.Key}}, nil
	}
	value := "false"
	if s.coord.AutoFailoverEnabled() {
		value = "true"
	}
	return &adminapi.ConfGetResponse{Response: adminapi.Response{Code: types.ErrOK}, Value: value}, nil
}

func addReplicaCluster(ctx context.Context, s *Server, req *adminapi.AddReplicaClusterRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.RemoteClusters.AddReplicaClusterDial(ctx, req.Info))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func removeReplicaCluster(ctx context.Context, s *Server, req *adminapi.RemoveReplicaClusterRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.RemoteClusters.RemoveReplicaCluster(ctx, req.Alias))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func showReplicaCluster(ctx context.Context, s *Server, req *adminapi.ShowReplicaClusterRequest) (*adminapi.ShowReplicaClusterResponse, error) {
	return &adminapi.ShowReplicaClusterResponse{
		Response: adminapi.Response{Code: types.ErrOK},
		Clusters: s.coord.RemoteClusters.List(),
	}, nil
}

func switchMode(ctx context.Context, s *Server, req *adminapi.SwitchModeRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.RemoteClusters.SwitchMode(ctx, req.Zone))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

// syncTable re-validates req.Name against req.Alias's current copy; it
// is a drift check, not a data mover (pkg/remotecluster.Manager.SyncTable).
func syncTable(ctx context.Context, s *Server, req *adminapi.SyncTableRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.RemoteClusters.SyncTable(ctx, req.Alias, req.Name))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func setSdkEndpoint(ctx context.Context, s *Server, req *adminapi.SetSdkEndpointRequest) (*adminapi.Response, error) {
	if err := s.coord.Store().Set(ctx, paths.SdkMap(req.Endpoint), []byte(req.SdkEndpoint)); err != nil {
		code, msg := errorCode(err)
		return &adminapi.Response{Code: code, Message: msg}, nil
	}
	return &adminapi.Response{Code: types.ErrOK}, nil
}

func showSdkEndpoint(ctx context.Context, s *Server, req *adminapi.ShowSdkEndpointRequest) (*adminapi.ShowSdkEndpointResponse, error) {
	children, err := s.coord.Store().Children(ctx, paths.MapSdkEndpoints)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.ShowSdkEndpointResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	out := make(map[string]string, len(children))
	for _, endpoint := range children {
		v, err := s.coord.Store().Get(ctx, paths.SdkMap(endpoint))
		if err != nil {
			continue
		}
		out[endpoint] = string(v)
	}
	return &adminapi.ShowSdkEndpointResponse{Response: adminapi.Response{Code: types.ErrOK}, Endpoints: out}, nil
}

// connectZK is a legacy-compatibility no-op: this system's MetaStore
// client talks to the embedded Raft group (pkg/metastore.Embedded),
// never a standalone ZooKeeper ensemble, so there's nothing to
// connect. It stays on the admin surface only so older tooling that
// issues it on startup doesn't hard-fail.
func connectZK(ctx context.Context, s *Server, req *adminapi.ConnectZKRequest) (*adminapi.Response, error) {
	s.logger.Debug().Str("zk_endpoints", req.ZkEndpoints).Msg("ConnectZK is a no-op on this MetaStore implementation")
	return &adminapi.Response{Code: types.ErrOK}, nil
}
