package rpcserver

import (
	"errors"

	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/remotecluster"
	"github.com/cuemby/tablestore/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errNotLeader is the transport-level rejection the leaderInterceptor
// returns; it never reaches adminapi.Response since the client sees it
// as a gRPC status instead.
var errNotLeader = status.Error(codes.Unavailable, types.ErrNameserverIsNotLeader.String())

// errorCode translates an error returned by pkg/catalog, pkg/op,
// pkg/remotecluster, or pkg/failover into the stable numeric
// ErrorCode contract every admin response carries (spec §6). Errors
// this function doesn't recognize fall back to kInvalidParameter with
// the original message, rather than inventing a new code per call
// site.
func errorCode(err error) (types.ErrorCode, string) {
	if err == nil {
		return types.ErrOK, ""
	}

	switch {
	case errors.Is(err, catalog.ErrDatabaseAlreadyExists):
		return types.ErrDatabaseAlreadyExists, err.Error()
	case errors.Is(err, catalog.ErrDatabaseNotExist):
		return types.ErrDatabaseNotExist, err.Error()
	case errors.Is(err, catalog.ErrDatabaseNotEmpty):
		return types.ErrDatabaseNotEmpty, err.Error()
	case errors.Is(err, catalog.ErrTableAlreadyExists):
		return types.ErrTableAlreadyExists, err.Error()
	case errors.Is(err, catalog.ErrTableNotExist):
		return types.ErrTableIsNotExist, err.Error()
	case errors.Is(err, catalog.ErrWrongColumnKey):
		return types.ErrWrongColumnKey, err.Error()
	case errors.Is(err, catalog.ErrIdxNameNotFound):
		return types.ErrIdxNameNotFound, err.Error()
	case errors.Is(err, catalog.ErrIdxNameExists):
		return types.ErrIdxNameExists, err.Error()
	case errors.Is(err, catalog.ErrTooManyAddedColumns):
		return types.ErrTooManyAddedColumns, err.Error()
	case errors.Is(err, catalog.ErrSchemaVersionExhausted):
		return types.ErrSchemaVersionExhausted, err.Error()
	case errors.Is(err, catalog.ErrProcedureReferencesTable):
		return types.ErrProcedureReferencesTable, err.Error()
	}

	var invalid catalog.ErrInvalidParameter
	if errors.As(err, &invalid) {
		return types.ErrInvalidParameter, err.Error()
	}
	var validation remotecluster.ValidationError
	if errors.As(err, &validation) {
		return types.ErrZoneInfoMismatch, err.Error()
	}

	return types.ErrInvalidParameter, err.Error()
}
