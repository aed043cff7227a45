package mainloop

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardkeep/regiond/pkg/catalog"
	"github.com/shardkeep/regiond/pkg/compactor"
	"github.com/shardkeep/regiond/pkg/config"
	"github.com/shardkeep/regiond/pkg/flusher"
	"github.com/shardkeep/regiond/pkg/masterclient"
	"github.com/shardkeep/regiond/pkg/outbox"
	"github.com/shardkeep/regiond/pkg/region"
	"github.com/shardkeep/regiond/pkg/regionstore"
	"github.com/shardkeep/regiond/pkg/registry"
	"github.com/shardkeep/regiond/pkg/rpcwire"
	"github.com/shardkeep/regiond/pkg/serverctx"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/shardkeep/regiond/pkg/wal"
	"github.com/shardkeep/regiond/pkg/worker"
)

type fakeStoreWriter struct{}

func (fakeStoreWriter) WriteStoreFile(regionName, family string, cells []types.Cell) (int, error) {
	return 1, nil
}
func (fakeStoreWriter) Compact(regionName, family string) (int64, error) { return 0, nil }

type fakeMaster struct {
	leaseHeldFor  int
	startupCalls  int
	startupErr    error
	reportResp    *types.HeartbeatResponse
	reportErr     error
	lastReportReq *types.HeartbeatRequest
}

func (m *fakeMaster) Startup(ctx context.Context, req *types.StartupRequest) (*types.StartupResponse, error) {
	m.startupCalls++
	if m.startupErr != nil {
		return nil, m.startupErr
	}
	if m.startupCalls <= m.leaseHeldFor {
		return &types.StartupResponse{LeaseStillHeld: true}, nil
	}
	return &types.StartupResponse{}, nil
}

func (m *fakeMaster) Report(ctx context.Context, req *types.HeartbeatRequest) (*types.HeartbeatResponse, error) {
	m.lastReportReq = req
	if m.reportErr != nil {
		return nil, m.reportErr
	}
	if m.reportResp != nil {
		return m.reportResp, nil
	}
	return &types.HeartbeatResponse{}, nil
}

func dialFakeMaster(t *testing.T, master *fakeMaster) *masterclient.Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	srv.RegisterService(&rpcwire.MasterServiceDesc, master)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := masterclient.Dial(lis.Addr().String(), "")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type harness struct {
	loop *Loop
	sc   *serverctx.ServerContext
	reg  *registry.Registry
	ob   *outbox.Outbox
	wl   *wal.WAL
}

func newHarness(t *testing.T, master *fakeMaster) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.MasterLeasePeriodMS = 50
	cfg.MsgIntervalMS = 10
	cfg.CompactCheckFrequencyMS = 1000

	sc := serverctx.New(context.Background(), &cfg, &types.ServerIdentity{Address: "10.0.0.1:60020"}, nil)

	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	store, err := regionstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	reg := registry.New()
	ob := outbox.New()

	opener := func(info *types.RegionInfo, progress func()) (*region.Region, error) {
		return region.Open(info, w, fakeStoreWriter{}, progress)
	}
	wk := worker.New(16, reg, w, ob, store, opener, nil, nil)

	fl := flusher.New(flusher.Config{
		WakeFrequency:       time.Hour,
		OptionalFlushPeriod: time.Hour,
		GlobalLimit:         1 << 30,
		GlobalLowMark:       1 << 29,
	}, func() []flusher.Flushable { return nil }, nil, nil, nil)

	cp := compactor.New(reg, cat, ob, nil)

	master.reportResp = &types.HeartbeatResponse{}
	mc := dialFakeMaster(t, master)

	reopenWAL := func() (*wal.WAL, error) {
		return wal.Open(filepath.Join(t.TempDir(), "wal2"), 1<<20)
	}
	loop := New(sc, reg, w, ob, wk, fl, cp, func() []compactor.Compactable { return nil }, nil, mc, reopenWAL)
	return &harness{loop: loop, sc: sc, reg: reg, ob: ob, wl: w}
}

func TestReportForDutySucceedsImmediately(t *testing.T) {
	master := &fakeMaster{}
	h := newHarness(t, master)

	err := h.loop.reportForDuty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, master.startupCalls)
}

func TestReportForDutyRetriesOnLeaseStillHeld(t *testing.T) {
	master := &fakeMaster{leaseHeldFor: 2}
	h := newHarness(t, master)

	err := h.loop.reportForDuty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, master.startupCalls)
}

func TestReportForDutyRetriesIndefinitelyUntilStopRequested(t *testing.T) {
	master := &fakeMaster{leaseHeldFor: 1000}
	h := newHarness(t, master)

	done := make(chan error, 1)
	go func() { done <- h.loop.reportForDuty(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	h.sc.RequestStop()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reportForDuty did not return after RequestStop")
	}
	assert.Less(t, master.startupCalls, 1000, "should have stopped retrying well before exhausting the lease-held count")
}

func TestHeartbeatFailurePrependsOutboxForRetry(t *testing.T) {
	master := &fakeMaster{reportErr: assert.AnError}
	h := newHarness(t, master)
	h.ob.Append(types.OutboundMessage{Kind: types.ReportOpen})

	err := h.loop.heartbeat(context.Background())
	assert.Error(t, err)

	msgs := h.ob.Swap()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.ReportOpen, msgs[0].Kind)
}

func TestDispatchServerStopRequestsGracefulShutdown(t *testing.T) {
	h := newHarness(t, &fakeMaster{})
	h.loop.dispatch(context.Background(), types.Instruction{Kind: types.InstrServerStop})
	assert.True(t, h.sc.StopRequested())
}

func TestDispatchServerQuiesceSetsStateAndQuiesced(t *testing.T) {
	h := newHarness(t, &fakeMaster{})
	h.loop.dispatch(context.Background(), types.Instruction{Kind: types.InstrServerQuiesce})
	assert.Equal(t, StateQuiescing, h.loop.State())
	assert.True(t, h.sc.Quiesced())
}

func TestShutdownSendsFinalExitingReport(t *testing.T) {
	master := &fakeMaster{}
	h := newHarness(t, master)

	h.loop.shutdown(context.Background())
	require.NotNil(t, master.lastReportReq)
	assert.Equal(t, types.ReportExiting, master.lastReportReq.Outbound[0].Kind)
	assert.Equal(t, StateExiting, h.loop.State())
}

func TestDispatchCallServerStartupRecoversInPlaceAndReportsAgain(t *testing.T) {
	master := &fakeMaster{}
	h := newHarness(t, master)
	originalStartCode := h.sc.Identity.StartCode

	h.loop.dispatch(context.Background(), types.Instruction{Kind: types.InstrCallServerStartup})

	assert.NotEqual(t, originalStartCode, h.sc.Identity.StartCode, "start code should be regenerated on recovery")
	assert.Equal(t, 1, master.startupCalls, "should report for duty again after recovering")
	assert.False(t, h.sc.Aborting())
}

func TestDispatchCallServerStartupAbortsWhenReportForDutyFails(t *testing.T) {
	master := &fakeMaster{startupErr: assert.AnError}
	h := newHarness(t, master)

	h.loop.dispatch(context.Background(), types.Instruction{Kind: types.InstrCallServerStartup})

	assert.True(t, h.sc.Aborting())
}

func TestShutdownOnAbortSkipsFinalReport(t *testing.T) {
	master := &fakeMaster{}
	h := newHarness(t, master)
	h.sc.Abort(assert.AnError)

	h.loop.shutdown(context.Background())
	assert.Nil(t, master.lastReportReq)
	assert.Equal(t, StateAborting, h.loop.State())
}
