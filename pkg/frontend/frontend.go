// Package frontend implements the client-facing RPC surface: the request
// handlers a client's get/batchUpdate/openScanner calls land on, each
// resolving a region name against the registry before delegating to it.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shardkeep/regiond/pkg/flusher"
	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/registry"
	"github.com/shardkeep/regiond/pkg/rpcwire"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/scanner"
	"github.com/shardkeep/regiond/pkg/serverctx"
	"github.com/shardkeep/regiond/pkg/types"
)

// protocolVersion is reported from getProtocolVersion; bumped whenever the
// request/response envelopes in pkg/rpcwire change shape.
const protocolVersion = 1

// regionHandle is the full capability the front end needs from a region,
// beyond the narrow registry.Region handle: everything a client request can
// ask of one. region.Region satisfies this; it is declared here, not
// imported from pkg/region, so the registry can keep returning its own
// narrow interface.
type regionHandle interface {
	Name() string
	Info() *types.RegionInfo
	Get(row []byte, family string, qualifier []byte, ceiling int64) (types.Cell, bool, error)
	GetRow(row []byte) ([]types.Cell, error)
	BatchUpdate(update types.RowUpdate) (int64, error)
	DeleteAll(row []byte, family string, timestamp int64) error
	DeleteFamily(row []byte, family string, timestamp int64) error
}

// regionCursor adapts a region's GetRow result into a one-shot scanner.Cursor.
// Real range scans over a region's sorted key space are a StoreWriter
// concern out of scope here; this front end only wires the scanner
// lifecycle (open/next/close) a caller depends on.
type regionCursor struct {
	region regionHandle
	spec   types.ScanSpec
	done   bool
}

func (c *regionCursor) Next() ([]types.Cell, error) {
	if c.done {
		return nil, nil
	}
	c.done = true
	return c.region.GetRow(c.spec.FirstRow)
}

func (c *regionCursor) Close() error { return nil }

// Server implements rpcwire.RegionService against a registry, a scanner
// registry, and the flusher's memory-admission gate.
type Server struct {
	sc       *serverctx.ServerContext
	registry *registry.Registry
	scanners *scanner.Registry
	flusher  *flusher.Flusher
	watchdog *fswatch.Watchdog

	requestCount atomic.Int64
	logger       zerolog.Logger
}

// New constructs a frontend Server. watchdog may be nil in tests that don't
// exercise the filesystem-unavailable path.
func New(sc *serverctx.ServerContext, reg *registry.Registry, scanners *scanner.Registry, fl *flusher.Flusher, watchdog *fswatch.Watchdog) *Server {
	return &Server{
		sc:       sc,
		registry: reg,
		scanners: scanners,
		flusher:  fl,
		watchdog: watchdog,
		logger:   log.WithComponent("frontend"),
	}
}

// RequestCount returns the number of requests served since start. The main
// loop's heartbeat does not read it: the load report it sends carries the
// loop's own request counter, which nothing increments.
func (s *Server) RequestCount() int64 { return s.requestCount.Load() }

func (s *Server) resolve(name string) (regionHandle, error) {
	r, err := s.registry.GetRegion(name, true)
	if err != nil {
		return nil, err
	}
	rh, ok := r.(regionHandle)
	if !ok {
		return nil, fmt.Errorf("region %s: %w", name, rserrors.ErrNotServingRegion)
	}
	return rh, nil
}

// track records the outcome of an RPC. On error it mints a short-lived
// correlation id and logs it alongside the error, so an operator can tie a
// client-reported failure back to this server's log without the wire
// protocol needing to carry a request id of its own.
func (s *Server) track(method string, start time.Time, err error) {
	s.requestCount.Add(1)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Error().Err(err).Str("method", method).Str("request_id", uuid.NewString()).Msg("request failed")
	}
	metrics.RequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (s *Server) checkRunning() error {
	if s.sc.StopRequested() {
		return rserrors.ErrServerNotRunning
	}
	if s.watchdog != nil && !s.watchdog.Healthy() {
		return rserrors.ErrFilesystemUnavailable
	}
	return nil
}

func isIOError(err error) bool {
	var remote *rserrors.RemoteException
	return errors.As(err, &remote)
}

// probeOnIOError actively re-probes the filesystem when a region op fails
// with an IO-shaped error, rather than waiting for the watchdog's cached
// verdict to catch up on the next request.
func (s *Server) probeOnIOError(err error) {
	if err != nil && isIOError(err) && s.watchdog != nil {
		s.watchdog.CheckFileSystem()
	}
}

// GetRegionInfo returns a region's current descriptor.
func (s *Server) GetRegionInfo(ctx context.Context, req *rpcwire.GetRegionInfoRequest) (resp *rpcwire.GetRegionInfoResponse, err error) {
	defer func(start time.Time) { s.track("GetRegionInfo", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	return &rpcwire.GetRegionInfoResponse{Info: r.Info()}, nil
}

// Get returns the most recent matching cell.
func (s *Server) Get(ctx context.Context, req *rpcwire.GetRequest) (resp *rpcwire.GetResponse, err error) {
	defer func(start time.Time) { s.track("Get", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	cell, found, err := r.Get(req.Row, req.Family, req.Qualifier, req.Ceiling)
	if err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	return &rpcwire.GetResponse{Cell: cell, Found: found}, nil
}

// GetRow returns every cell for a row.
func (s *Server) GetRow(ctx context.Context, req *rpcwire.GetRowRequest) (resp *rpcwire.GetRowResponse, err error) {
	defer func(start time.Time) { s.track("GetRow", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	cells, err := r.GetRow(req.Row)
	if err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	return &rpcwire.GetRowResponse{Cells: cells}, nil
}

// GetClosestRowBefore returns the nearest row at or before the requested
// key within family. The memtable holds no secondary row index, so this
// degrades to an exact-row lookup; a true closest-row scan belongs to the
// on-disk store's sorted format, out of scope here.
func (s *Server) GetClosestRowBefore(ctx context.Context, req *rpcwire.GetClosestRowBeforeRequest) (resp *rpcwire.GetClosestRowBeforeResponse, err error) {
	defer func(start time.Time) { s.track("GetClosestRowBefore", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	cells, err := r.GetRow(req.Row)
	if err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	if req.Family != "" {
		filtered := cells[:0]
		for _, c := range cells {
			if c.Family == req.Family {
				filtered = append(filtered, c)
			}
		}
		cells = filtered
	}
	return &rpcwire.GetClosestRowBeforeResponse{Cells: cells, Found: len(cells) > 0}, nil
}

// BatchUpdate applies each column write in turn against the region's WAL
// and memtable, passing through the flusher's memory admission gate first
// so a write storm cannot run the server out of memory. The first failed
// write ends the batch; writes applied before it stay applied.
func (s *Server) BatchUpdate(ctx context.Context, req *rpcwire.BatchUpdateRequest) (resp *rpcwire.BatchUpdateResponse, err error) {
	defer func(start time.Time) { s.track("BatchUpdate", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	if s.flusher != nil {
		s.flusher.ReclaimMemory()
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	for _, update := range req.Updates {
		if _, err = r.BatchUpdate(update); err != nil {
			s.probeOnIOError(err)
			return nil, err
		}
	}
	return &rpcwire.BatchUpdateResponse{}, nil
}

// DeleteAll removes every version of a row at or before a timestamp.
func (s *Server) DeleteAll(ctx context.Context, req *rpcwire.DeleteAllRequest) (resp *rpcwire.DeleteAllResponse, err error) {
	defer func(start time.Time) { s.track("DeleteAll", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	if err = r.DeleteAll(req.Row, req.Family, req.Timestamp); err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	return &rpcwire.DeleteAllResponse{}, nil
}

// DeleteFamily removes every version at or before a timestamp of every
// column in a family for a row.
func (s *Server) DeleteFamily(ctx context.Context, req *rpcwire.DeleteFamilyRequest) (resp *rpcwire.DeleteFamilyResponse, err error) {
	defer func(start time.Time) { s.track("DeleteFamily", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	if err = r.DeleteFamily(req.Row, req.Family, req.Timestamp); err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	return &rpcwire.DeleteFamilyResponse{}, nil
}

// OpenScanner opens a cursor over a region and registers it under a fresh
// lease-backed id.
func (s *Server) OpenScanner(ctx context.Context, req *rpcwire.OpenScannerRequest) (resp *rpcwire.OpenScannerResponse, err error) {
	defer func(start time.Time) { s.track("OpenScanner", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	r, err := s.resolve(req.RegionName)
	if err != nil {
		return nil, err
	}
	id, err := s.scanners.Open(&regionCursor{region: r, spec: req.Spec})
	if err != nil {
		return nil, err
	}
	return &rpcwire.OpenScannerResponse{ScannerID: id}, nil
}

// Next advances a scanner and returns its next batch.
func (s *Server) Next(ctx context.Context, req *rpcwire.NextRequest) (resp *rpcwire.NextResponse, err error) {
	defer func(start time.Time) { s.track("Next", start, err) }(time.Now())
	if err = s.checkRunning(); err != nil {
		return nil, err
	}
	cells, err := s.scanners.Next(req.ScannerID)
	if err != nil {
		s.probeOnIOError(err)
		return nil, err
	}
	return &rpcwire.NextResponse{Cells: cells}, nil
}

// CloseScanner releases a scanner and its lease.
func (s *Server) CloseScanner(ctx context.Context, req *rpcwire.CloseScannerRequest) (resp *rpcwire.CloseScannerResponse, err error) {
	defer func(start time.Time) { s.track("CloseScanner", start, err) }(time.Now())
	if err = s.scanners.Close(req.ScannerID); err != nil {
		return nil, err
	}
	return &rpcwire.CloseScannerResponse{}, nil
}

// GetProtocolVersion reports the wire protocol version this server speaks.
func (s *Server) GetProtocolVersion(ctx context.Context, req *rpcwire.GetProtocolVersionRequest) (resp *rpcwire.GetProtocolVersionResponse, err error) {
	defer func(start time.Time) { s.track("GetProtocolVersion", start, err) }(time.Now())
	return &rpcwire.GetProtocolVersionResponse{Version: protocolVersion}, nil
}
