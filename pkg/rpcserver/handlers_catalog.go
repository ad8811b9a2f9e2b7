package rpcserver

import (
	"context"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/types"
)

func createDatabase(ctx context.Context, s *Server, req *adminapi.CreateDatabaseRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.CreateDatabase(ctx, req.Db))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func dropDatabase(ctx context.Context, s *Server, req *adminapi.DropDatabaseRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.DropDatabase(ctx, req.Db))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func showDatabase(ctx context.Context, s *Server, req *adminapi.ShowDatabaseRequest) (*adminapi.ShowDatabaseResponse, error) {
	return &adminapi.ShowDatabaseResponse{
		Response:  adminapi.Response{Code: types.ErrOK},
		Databases: s.coord.Catalog.ListDatabases(),
	}, nil
}

func createTable(ctx context.Context, s *Server, req *adminapi.CreateTableRequest) (*adminapi.CreateTableResponse, error) {
	spec := catalog.CreateTableSpec{
		Db:           req.Db,
		Name:         req.Name,
		Columns:      req.Columns,
		ColumnKeys:   req.ColumnKeys,
		TTL:          req.TTL,
		PartitionNum: req.PartitionNum,
		ReplicaNum:   req.ReplicaNum,
		Compression:  req.Compression,
	}
	tbl, err := s.coord.Catalog.CreateTable(ctx, spec)
	code, msg := errorCode(err)
	return &adminapi.CreateTableResponse{Response: adminapi.Response{Code: code, Message: msg}, Table: tbl}, nil
}

func dropTable(ctx context.Context, s *Server, req *adminapi.DropTableRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.DropTable(ctx, req.Db, req.Name))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func addTableField(ctx context.Context, s *Server, req *adminapi.AddTableFieldRequest) (*adminapi.ShowTableResponse, error) {
	tbl, err := s.coord.Catalog.AddField(ctx, req.Db, req.Name, req.Column)
	code, msg := errorCode(err)
	return &adminapi.ShowTableResponse{Response: adminapi.Response{Code: code, Message: msg}, Table: tbl}, nil
}

func updateTTL(ctx context.Context, s *Server, req *adminapi.UpdateTTLRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.UpdateTTL(ctx, req.Db, req.Name, req.TTL))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func addIndex(ctx context.Context, s *Server, req *adminapi.AddIndexRequest) (*adminapi.ShowTableResponse, error) {
	ck := types.ColumnKey{IndexName: req.IndexName, ColName: req.Columns}
	tbl, err := s.coord.Catalog.AddIndex(ctx, req.Db, req.Name, ck)
	if err != nil {
		code, msg := errorCode(err)
		return &adminapi.ShowTableResponse{Response: adminapi.Response{Code: code, Message: msg}}, nil
	}

	payload := map[string]interface{}{
		"tid":        tbl.Tid,
		"pid":        0,
		"leader":     firstLeaderEndpoint(tbl),
		"index_name": req.IndexName,
		"columns":    req.Columns,
		"has_data":   pid0HasData(tbl),
		"dst":        firstFollowerEndpoint(tbl),
	}
	if op, err := s.coord.Engine.CreateOPData(ctx, types.OpAddIndex, payload, tbl.Name, tbl.Db, 0, 0, 0); err == nil {
		s.coord.Engine.AddOPData(op)
	} else {
		s.logger.Warn().Err(err).Msg("AddIndex: failed to enqueue backfill op")
	}
	return &adminapi.ShowTableResponse{Response: adminapi.Response{Code: types.ErrOK}, Table: tbl}, nil
}

func deleteIndex(ctx context.Context, s *Server, req *adminapi.DeleteIndexRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.DeleteIndex(ctx, req.Db, req.Name, req.IndexName))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func showTable(ctx context.Context, s *Server, req *adminapi.ShowTableRequest) (*adminapi.ShowTableResponse, error) {
	tbl, err := s.coord.Catalog.GetTable(req.Db, req.Name)
	code, msg := errorCode(err)
	return &adminapi.ShowTableResponse{Response: adminapi.Response{Code: code, Message: msg}, Table: tbl}, nil
}

func showCatalog(ctx context.Context, s *Server, req *adminapi.ShowCatalogRequest) (*adminapi.ShowCatalogResponse, error) {
	return &adminapi.ShowCatalogResponse{
		Response: adminapi.Response{Code: types.ErrOK},
		Tables:   s.coord.Catalog.ListTables(req.Db),
	}, nil
}

func createProcedure(ctx context.Context, s *Server, req *adminapi.CreateProcedureRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.CreateProcedure(ctx, req.Procedure))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

func dropProcedure(ctx context.Context, s *Server, req *adminapi.DropProcedureRequest) (*adminapi.Response, error) {
	code, msg := errorCode(s.coord.Catalog.DropProcedure(ctx, req.Db, req.Name))
	return &adminapi.Response{Code: code, Message: msg}, nil
}

// firstLeaderEndpoint returns pid 0's leader endpoint, or "" if none is
// alive; AddIndex backfill targets the leader first and fans out to
// followers via the tablet-side AddIndexToTablet broadcast itself.
func firstLeaderEndpoint(tbl *types.Table) string {
	for _, tp := range tbl.TablePartition {
		if tp.Pid == 0 {
			if l := tp.Leader(); l != nil {
				return l.Endpoint
			}
		}
	}
	return ""
}

// pid0HasData reports whether pid 0 already holds rows, which decides
// AddIndex's skip-data vs. full-backfill task chain (spec §4.5).
func pid0HasData(tbl *types.Table) bool {
	for _, tp := range tbl.TablePartition {
		if tp.Pid == 0 {
			if l := tp.Leader(); l != nil {
				return l.RecordCnt > 0
			}
		}
	}
	return false
}

// firstFollowerEndpoint returns pid 0's first non-leader replica, the
// representative follower AddIndex's backfill chain sends dumped index
// data to.
func firstFollowerEndpoint(tbl *types.Table) string {
	for _, tp := range tbl.TablePartition {
		if tp.Pid != 0 {
			continue
		}
		for _, m := range tp.PartitionMeta {
			if !m.IsLeader {
				return m.Endpoint
			}
		}
	}
	return ""
}
