package rpcwire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/shardkeep/regiond/pkg/types"
)

// MasterServer is the master-facing RPC surface this server calls outward:
// report-for-duty once at startup, then heartbeat repeatedly.
type MasterServer interface {
	Startup(ctx context.Context, req *types.StartupRequest) (*types.StartupResponse, error)
	Report(ctx context.Context, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error)
}

// MasterServiceName is the grpc service path segment, standing in for the
// package.Service name a .proto file would otherwise define.
const MasterServiceName = "regiond.Master"

func masterStartupHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.StartupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).Startup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + MasterServiceName + "/Startup"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).Startup(ctx, req.(*types.StartupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func masterReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MasterServer).Report(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + MasterServiceName + "/Report"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MasterServer).Report(ctx, req.(*types.HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// MasterServiceDesc is registered on the master's grpc.Server (out of scope
// here, kept for symmetry and for tests that stand up a fake master).
var MasterServiceDesc = grpc.ServiceDesc{
	ServiceName: MasterServiceName,
	HandlerType: (*MasterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Startup", Handler: masterStartupHandler},
		{MethodName: "Report", Handler: masterReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "regiond/master.proto",
}

// CallStartup invokes Master.Startup against conn.
func CallStartup(ctx context.Context, conn *grpc.ClientConn, req *types.StartupRequest) (*types.StartupResponse, error) {
	out := new(types.StartupResponse)
	err := conn.Invoke(ctx, "/"+MasterServiceName+"/Startup", req, out, grpc.ForceCodec(Codec{}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallReport invokes Master.Report against conn.
func CallReport(ctx context.Context, conn *grpc.ClientConn, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	out := new(types.HeartbeatResponse)
	err := conn.Invoke(ctx, "/"+MasterServiceName+"/Report", req, out, grpc.ForceCodec(Codec{}))
	if err != nil {
		return nil, err
	}
	return out, nil
}
