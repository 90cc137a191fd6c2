package api

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path this package dispatches under.
// There is no protoc-gen-go output backing this package (see codec.go),
// so the service descriptor below is hand-built rather than generated.
const serviceName = "master.Master"

// unaryMethod binds a *Server method to a grpc.MethodDesc without the
// interface{} request/response casting boilerplate a hand-written
// ServiceDesc usually needs: the generic instantiates the cast once per
// RPC name instead of once per call.
func unaryMethod[TReq any, TResp any](name string, fn func(*Server, context.Context, *TReq) (*TResp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(TReq)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*TReq))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// serviceDesc is the hand-built ServiceDesc jsonCodec's grpc.Server
// dispatches through; RegisterMasterServer binds it to a concrete *Server.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*masterServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Status", (*Server).Status),
		unaryMethod("SystemStatus", (*Server).SystemStatus),
		unaryMethod("CreateTable", (*Server).CreateTable),
		unaryMethod("DropTable", (*Server).DropTable),
		unaryMethod("AlterTable", (*Server).AlterTable),
		unaryMethod("RenameTable", (*Server).RenameTable),
		unaryMethod("Compact", (*Server).Compact),
		unaryMethod("CreateNamespace", (*Server).CreateNamespace),
		unaryMethod("DropNamespace", (*Server).DropNamespace),
		unaryMethod("RecreateIndexTables", (*Server).RecreateIndexTables),
		unaryMethod("RegisterServer", (*Server).RegisterServer),
		unaryMethod("MoveRange", (*Server).MoveRange),
		unaryMethod("RelinquishAcknowledge", (*Server).RelinquishAcknowledge),
		unaryMethod("Balance", (*Server).Balance),
		unaryMethod("SetState", (*Server).SetState),
		unaryMethod("Stop", (*Server).Stop),
		unaryMethod("Shutdown", (*Server).Shutdown),
		unaryMethod("FetchResult", (*Server).FetchResult),
		unaryMethod("ReplayStatus", (*Server).ReplayStatus),
		unaryMethod("ReplayComplete", (*Server).ReplayComplete),
		unaryMethod("PhantomPrepareComplete", (*Server).PhantomPrepareComplete),
		unaryMethod("PhantomCommitComplete", (*Server).PhantomCommitComplete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "master.proto",
}

// masterServer is the HandlerType placeholder grpc.Server's reflection
// bookkeeping expects; it carries no methods of its own since dispatch
// goes through the closures built by unaryMethod above.
type masterServer interface{}

// RegisterMasterServer binds impl into s's service registry under
// master.Master.
func RegisterMasterServer(s *grpc.Server, impl *Server) {
	s.RegisterService(&serviceDesc, impl)
}
