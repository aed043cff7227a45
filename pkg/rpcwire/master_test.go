package rpcwire

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeMaster struct {
	startupReq *types.StartupRequest
	startupErr error
	reportReq  *types.HeartbeatRequest
	reportResp *types.HeartbeatResponse
}

func (m *fakeMaster) Startup(ctx context.Context, req *types.StartupRequest) (*types.StartupResponse, error) {
	m.startupReq = req
	if m.startupErr != nil {
		return nil, m.startupErr
	}
	return &types.StartupResponse{ConfigMap: map[string]string{"hbase.rootdir": "/data"}}, nil
}

func (m *fakeMaster) Report(ctx context.Context, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	m.reportReq = req
	return m.reportResp, nil
}

func dialFakeMaster(t *testing.T, master MasterServer) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	srv.RegisterService(&MasterServiceDesc, master)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCallStartupRoundTrip(t *testing.T) {
	master := &fakeMaster{}
	conn := dialFakeMaster(t, master)

	req := &types.StartupRequest{Identity: types.ServerIdentity{Address: "10.0.0.1:60020", StartCode: 7}}
	resp, err := CallStartup(context.Background(), conn, req)
	require.NoError(t, err)
	require.Equal(t, "/data", resp.ConfigMap["hbase.rootdir"])
	require.Equal(t, req.Identity, master.startupReq.Identity)
}

func TestCallStartupPropagatesServerError(t *testing.T) {
	master := &fakeMaster{startupErr: errors.New("lease still held")}
	conn := dialFakeMaster(t, master)

	_, err := CallStartup(context.Background(), conn, &types.StartupRequest{})
	require.Error(t, err)
}

func TestCallReportRoundTrip(t *testing.T) {
	master := &fakeMaster{reportResp: &types.HeartbeatResponse{
		Instructions: []types.Instruction{{Kind: types.InstrRegionClose}},
	}}
	conn := dialFakeMaster(t, master)

	req := &types.HeartbeatRequest{
		Identity: types.ServerIdentity{Address: "10.0.0.1:60020"},
		Outbound: []types.OutboundMessage{{Kind: types.ReportOpen}},
	}
	resp, err := CallReport(context.Background(), conn, req)
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	require.Equal(t, types.InstrRegionClose, resp.Instructions[0].Kind)
	require.Len(t, master.reportReq.Outbound, 1)
}
