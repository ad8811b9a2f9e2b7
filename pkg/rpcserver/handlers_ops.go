package rpcserver

import (
	"context"
	"fmt"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/types"
)

// enqueue allocates+persists an OP from payload and immediately queues
// it, translating any allocation failure into kCreateOpFailed (spec
// §6) rather than the generic invalid-parameter fallback.
func enqueue(ctx context.Context, s *Server, opType types.OpType, payload map[string]interface{}, name, db string, pid int) (*adminapi.OpEnqueuedResponse, error) {
	o, err := s.coord.Engine.CreateOPData(ctx, opType, payload, name, db, pid, 0, 0)
	if err != nil {
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: types.ErrCreateOpFailed, Message: err.Error()}}, nil
	}
	s.coord.Engine.AddOPData(o)
	return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: types.ErrOK}, OpID: o.OpID}, nil
}

// rejectAutoFailover is checked by every partition-mutating admin
// command the Failover Controller could also be driving on its own
// (spec §4.10/§7): while auto_failover is enabled, an operator's
// manual replica/leader/snapshot op would race the controller's own
// decisions, so these commands refuse outright instead.
func rejectAutoFailover(s *Server) (*adminapi.OpEnqueuedResponse, bool) {
	if !s.coord.AutoFailoverEnabled() {
		return nil, false
	}
	return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: types.ErrAutoFailoverIsEnabled}}, true
}

func partitionLeader(s *Server, db, name string, pid int) (uint64, string, error) {
	tbl, err := s.coord.Catalog.GetTable(db, name)
	if err != nil {
		return 0, "", err
	}
	for _, tp := range tbl.TablePartition {
		if tp.Pid == pid {
			if l := tp.Leader(); l != nil {
				return tbl.Tid, l.Endpoint, nil
			}
			return tbl.Tid, "", fmt.Errorf("pid %d has no alive leader", pid)
		}
	}
	return tbl.Tid, "", fmt.Errorf("pid %d not found", pid)
}

func addReplicaNS(ctx context.Context, s *Server, req *adminapi.AddReplicaNSRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tid, leader, err := partitionLeader(s, req.Db, req.Name, req.Pid)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tid, "pid": req.Pid, "leader": leader, "follower": req.Endpoint}
	return enqueue(ctx, s, types.OpAddReplica, payload, req.Name, req.Db, req.Pid)
}

func delReplicaNS(ctx context.Context, s *Server, req *adminapi.DelReplicaNSRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tid, leader, err := partitionLeader(s, req.Db, req.Name, req.Pid)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tid, "pid": req.Pid, "leader": leader, "follower": req.Endpoint}
	return enqueue(ctx, s, types.OpDelReplica, payload, req.Name, req.Db, req.Pid)
}

func migrate(ctx context.Context, s *Server, req *adminapi.MigrateRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tbl, err := s.coord.Catalog.GetTable(req.Db, req.Name)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tbl.Tid, "pid": req.Pid, "src": req.Src, "dst": req.Dst}
	return enqueue(ctx, s, types.OpMigrate, payload, req.Name, req.Db, req.Pid)
}

func changeLeader(ctx context.Context, s *Server, req *adminapi.ChangeLeaderRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tbl, err := s.coord.Catalog.GetTable(req.Db, req.Name)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tbl.Tid, "pid": req.Pid}
	return enqueue(ctx, s, types.OpChangeLeader, payload, req.Name, req.Db, req.Pid)
}

func recoverEndpoint(ctx context.Context, s *Server, req *adminapi.RecoverEndpointRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tbl, err := s.coord.Catalog.GetTable(req.Db, req.Name)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tbl.Tid, "pid": req.Pid, "endpoint": req.Endpoint, "need_restore": req.Endpoint == types.OfflineLeaderEndpoint}
	return enqueue(ctx, s, types.OpRecoverTable, payload, req.Name, req.Db, req.Pid)
}

func recoverTable(ctx context.Context, s *Server, req *adminapi.RecoverTableRequest) (*adminapi.Response, error) {
	tbl, err := s.coord.Catalog.GetTable(req.Db, req.Name)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.Response{Code: code, Message: msg}, nil
	}
	for _, tp := range tbl.TablePartition {
		if err := s.coord.Failover.RestoreEndpoint(ctx, req.Db, req.Name, tp.Pid, types.OfflineLeaderEndpoint); err != nil {
			s.logger.Warn().Err(err).Int("pid", tp.Pid).Msg("RecoverTable: restore failed for partition")
		}
	}
	return &adminapi.Response{Code: types.ErrOK}, nil
}

func offlineEndpoint(ctx context.Context, s *Server, req *adminapi.OfflineEndpointRequest) (*adminapi.Response, error) {
	s.coord.Failover.OnTabletOffline(req.Endpoint)
	return &adminapi.Response{Code: types.ErrOK}, nil
}

func makeSnapshotNS(ctx context.Context, s *Server, req *adminapi.MakeSnapshotNSRequest) (*adminapi.OpEnqueuedResponse, error) {
	if resp, rejected := rejectAutoFailover(s); rejected {
		return resp, nil
	}
	tid, leader, err := partitionLeader(s, req.Db, req.Name, req.Pid)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.OpEnqueuedResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}
	payload := map[string]interface{}{"tid": tid, "pid": req.Pid, "leader": leader}
	return enqueue(ctx, s, types.OpMakeSnapshot, payload, req.Name, req.Db, req.Pid)
}

func cancelOP(ctx context.Context, s *Server, req *adminapi.CancelOPRequest) (*adminapi.Response, error) {
	if _, ok := s.coord.Engine.CancelOP(req.OpID); !ok {
		return &adminapi.Response{Code: types.ErrOpNotFound}, nil
	}
	return &adminapi.Response{Code: types.ErrOK}, nil
}

func showOPStatus(ctx context.Context, s *Server, req *adminapi.ShowOPStatusRequest) (*adminapi.ShowOPStatusResponse, error) {
	o, ok := s.coord.Engine.Get(req.OpID)
	if !ok {
		return &adminapi.ShowOPStatusResponse{Response: adminapi.Response{Code: types.ErrOpNotFound}}, nil
	}
	return &adminapi.ShowOPStatusResponse{Response: adminapi.Response{Code: types.ErrOK}, Op: o}, nil
}

func listOPs(ctx context.Context, s *Server, req *adminapi.ListOPsRequest) (*adminapi.ListOPsResponse, error) {
	return &adminapi.ListOPsResponse{Response: adminapi.Response{Code: types.ErrOK}, Ops: s.coord.Engine.List()}, nil
}
