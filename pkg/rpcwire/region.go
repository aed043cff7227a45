package rpcwire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/shardkeep/regiond/pkg/types"
)

// RegionServiceName is the grpc service path segment for the client-facing
// region API.
const RegionServiceName = "regiond.RegionService"

// Request/response envelopes for the client RPC surface. Each mirrors one
// operation named in the client interface; kept here rather than in
// pkg/types since they are wire envelopes, not domain objects reused
// elsewhere in the core.

type GetRegionInfoRequest struct{ RegionName string }
type GetRegionInfoResponse struct{ Info *types.RegionInfo }

type GetRequest struct {
	RegionName string
	Row        []byte
	Family     string
	Qualifier  []byte
	Ceiling    int64
}
type GetResponse struct {
	Cell  types.Cell
	Found bool
}

type GetRowRequest struct {
	RegionName string
	Row        []byte
}
type GetRowResponse struct{ Cells []types.Cell }

type GetClosestRowBeforeRequest struct {
	RegionName string
	Row        []byte
	Family     string
}
type GetClosestRowBeforeResponse struct {
	Cells []types.Cell
	Found bool
}

type BatchUpdateRequest struct {
	RegionName string
	Updates    []types.RowUpdate
}
type BatchUpdateResponse struct{}

type DeleteAllRequest struct {
	RegionName string
	Row        []byte
	Family     string
	Timestamp  int64
}
type DeleteAllResponse struct{}

type DeleteFamilyRequest struct {
	RegionName string
	Row        []byte
	Family     string
	Timestamp  int64
}
type DeleteFamilyResponse struct{}

type OpenScannerRequest struct {
	RegionName string
	Spec       types.ScanSpec
}
type OpenScannerResponse struct{ ScannerID uint64 }

type NextRequest struct{ ScannerID uint64 }
type NextResponse struct{ Cells []types.Cell }

type CloseScannerRequest struct{ ScannerID uint64 }
type CloseScannerResponse struct{}

type GetProtocolVersionRequest struct{ Protocol string }
type GetProtocolVersionResponse struct{ Version int64 }

// RegionService is the client-facing RPC surface a region server exposes.
type RegionService interface {
	GetRegionInfo(ctx context.Context, req *GetRegionInfoRequest) (*GetRegionInfoResponse, error)
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	GetRow(ctx context.Context, req *GetRowRequest) (*GetRowResponse, error)
	GetClosestRowBefore(ctx context.Context, req *GetClosestRowBeforeRequest) (*GetClosestRowBeforeResponse, error)
	BatchUpdate(ctx context.Context, req *BatchUpdateRequest) (*BatchUpdateResponse, error)
	DeleteAll(ctx context.Context, req *DeleteAllRequest) (*DeleteAllResponse, error)
	DeleteFamily(ctx context.Context, req *DeleteFamilyRequest) (*DeleteFamilyResponse, error)
	OpenScanner(ctx context.Context, req *OpenScannerRequest) (*OpenScannerResponse, error)
	Next(ctx context.Context, req *NextRequest) (*NextResponse, error)
	CloseScanner(ctx context.Context, req *CloseScannerRequest) (*CloseScannerResponse, error)
	GetProtocolVersion(ctx context.Context, req *GetProtocolVersionRequest) (*GetProtocolVersionResponse, error)
}

func unaryHandler[Req any, Resp any](fullMethod string, call func(srv interface{}, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	name := fullMethod
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + RegionServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegionServiceDesc registers every RegionService method against a
// grpc.Server for the client front end.
var RegionServiceDesc = grpc.ServiceDesc{
	ServiceName: RegionServiceName,
	HandlerType: (*RegionService)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetRegionInfo", func(srv interface{}, ctx context.Context, req *GetRegionInfoRequest) (*GetRegionInfoResponse, error) {
			return srv.(RegionService).GetRegionInfo(ctx, req)
		}),
		unaryHandler("Get", func(srv interface{}, ctx context.Context, req *GetRequest) (*GetResponse, error) {
			return srv.(RegionService).Get(ctx, req)
		}),
		unaryHandler("GetRow", func(srv interface{}, ctx context.Context, req *GetRowRequest) (*GetRowResponse, error) {
			return srv.(RegionService).GetRow(ctx, req)
		}),
		unaryHandler("GetClosestRowBefore", func(srv interface{}, ctx context.Context, req *GetClosestRowBeforeRequest) (*GetClosestRowBeforeResponse, error) {
			return srv.(RegionService).GetClosestRowBefore(ctx, req)
		}),
		unaryHandler("BatchUpdate", func(srv interface{}, ctx context.Context, req *BatchUpdateRequest) (*BatchUpdateResponse, error) {
			return srv.(RegionService).BatchUpdate(ctx, req)
		}),
		unaryHandler("DeleteAll", func(srv interface{}, ctx context.Context, req *DeleteAllRequest) (*DeleteAllResponse, error) {
			return srv.(RegionService).DeleteAll(ctx, req)
		}),
		unaryHandler("DeleteFamily", func(srv interface{}, ctx context.Context, req *DeleteFamilyRequest) (*DeleteFamilyResponse, error) {
			return srv.(RegionService).DeleteFamily(ctx, req)
		}),
		unaryHandler("OpenScanner", func(srv interface{}, ctx context.Context, req *OpenScannerRequest) (*OpenScannerResponse, error) {
			return srv.(RegionService).OpenScanner(ctx, req)
		}),
		unaryHandler("Next", func(srv interface{}, ctx context.Context, req *NextRequest) (*NextResponse, error) {
			return srv.(RegionService).Next(ctx, req)
		}),
		unaryHandler("CloseScanner", func(srv interface{}, ctx context.Context, req *CloseScannerRequest) (*CloseScannerResponse, error) {
			return srv.(RegionService).CloseScanner(ctx, req)
		}),
		unaryHandler("GetProtocolVersion", func(srv interface{}, ctx context.Context, req *GetProtocolVersionRequest) (*GetProtocolVersionResponse, error) {
			return srv.(RegionService).GetProtocolVersion(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "regiond/region_service.proto",
}
