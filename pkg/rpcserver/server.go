// Package rpcserver is the C10 Admin RPC Surface: a hand-built
// grpc.ServiceDesc carrying one unary method per admin command (spec
// §6), dispatched against a running manager.Coordinator. Messages ride
// the JSON codec registered by pkg/rpcwire rather than generated
// protobuf stubs, since no .proto definitions ship with this system;
// the gRPC framing, interceptor chain, and graceful-stop shape are
// otherwise exactly the teacher's.
package rpcserver

import (
	"context"
	"fmt"
	"net"

	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/manager"
	_ "github.com/cuemby/tablestore/pkg/rpcwire"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// ServiceName is the admin surface's gRPC service name, used in the
// "/ServiceName/Method" full method strings clients dial against.
const ServiceName = "tablestore.Admin"

// Server implements the admin RPC surface against a Coordinator.
type Server struct {
	coord  *manager.Coordinator
	logger zerolog.Logger
	grpc   *grpc.Server
}

// NewServer wraps coord; call Start to begin serving.
func NewServer(coord *manager.Coordinator) *Server {
	return &Server{coord: coord, logger: log.WithComponent("rpcserver")}
}

// Start listens on addr and serves the admin surface until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcserver: listen %s: %w", addr, err)
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.leaderInterceptor))
	s.grpc.RegisterService(&serviceDesc, s)
	s.logger.Info().Str("addr", addr).Msg("admin RPC surface listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and stops the listener.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// leaderInterceptor rejects every RPC unless this node currently holds
// coordinator leadership: only the leader ever runs Recover, so only
// the leader's in-memory Catalog/Engine/Tablets/RemoteClusters are
// populated (spec §4.8). Followers' admin requests return
// kNameserverIsNotLeader for the client to retry against the new
// leader, mirroring the teacher's ensureLeader gate extended to reads
// as well as writes, since this node simply has no state to read.
func (s *Server) leaderInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !s.coord.IsRunning() {
		return nil, errNotLeader
	}
	return handler(ctx, req)
}

// unaryHandler builds one grpc.MethodDesc for an admin command whose
// request/response types are concrete adminapi structs, so adding a
// command costs one table entry instead of a hand-rolled Handler
// closure each time.
func unaryHandler[Req any, Resp any](name string, fn func(ctx context.Context, s *Server, req *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			s := srv.(*Server)
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(ctx, s, in)
			}
			info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/" + name}
			wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(ctx, s, req.(*Req))
			}
			return interceptor(ctx, in, info, wrapped)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods:     methods,
	Streams:     nil,
	Metadata:    "pkg/rpcserver",
}
