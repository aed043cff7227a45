// Package worker implements the single-threaded consumer of the inbound
// instruction queue: the only place REGION_OPEN, REGION_CLOSE,
// REGION_CLOSE_WITHOUT_REPORT, and REGIONSERVER_QUIESCE are actually
// executed, so two opens or closes of the same region can never race.
package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/shardkeep/regiond/pkg/fswatch"
	"github.com/shardkeep/regiond/pkg/log"
	"github.com/shardkeep/regiond/pkg/metrics"
	"github.com/shardkeep/regiond/pkg/outbox"
	"github.com/shardkeep/regiond/pkg/region"
	"github.com/shardkeep/regiond/pkg/registry"
	"github.com/shardkeep/regiond/pkg/regionstore"
	"github.com/shardkeep/regiond/pkg/rserrors"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/shardkeep/regiond/pkg/wal"
)

// infoProvider is the narrow capability worker needs from a registry.Region
// to tell a catalog region from a user region. region.Region satisfies it.
type infoProvider interface {
	Info() *types.RegionInfo
}

// numRetries bounds how many times an instruction is requeued after an IO
// error before it is given up on and logged, per §4.2.
const numRetries = 3

// Opener constructs a region from its descriptor, replaying the WAL and
// loading on-disk state. Implemented by pkg/region.Open, injected here so
// worker does not need to know region's store-writer dependency.
type Opener func(info *types.RegionInfo, progress func()) (*region.Region, error)

// CompactRequester hands a freshly opened region to the compactor for an
// immediate compaction check.
type CompactRequester func(r *region.Region)

// Worker drains the inbound instruction queue in order, one instruction at
// a time.
type Worker struct {
	queue             chan types.Instruction
	registry          *registry.Registry
	wal               atomic.Pointer[wal.WAL]
	outbox            *outbox.Outbox
	store             *regionstore.Store
	open              Opener
	requestCompaction CompactRequester
	watchdog          *fswatch.Watchdog

	logger zerolog.Logger
}

// New creates a Worker with a bounded inbound queue of the given depth.
// store may be nil, in which case local ownership bookkeeping is skipped.
func New(depth int, reg *registry.Registry, w *wal.WAL, ob *outbox.Outbox, store *regionstore.Store, open Opener, requestCompaction CompactRequester, watchdog *fswatch.Watchdog) *Worker {
	wk := &Worker{
		queue:             make(chan types.Instruction, depth),
		registry:          reg,
		outbox:            ob,
		store:             store,
		open:              open,
		requestCompaction: requestCompaction,
		watchdog:          watchdog,
		logger:            log.WithComponent("worker"),
	}
	wk.wal.Store(w)
	return wk
}

// WAL returns the write-ahead log regions should currently replay onto and
// advance the floor of. SetWAL swaps it, used after a CALL_SERVER_STARTUP
// in-place recovery reopens the log under a new identity.
func (w *Worker) WAL() *wal.WAL        { return w.wal.Load() }
func (w *Worker) SetWAL(newWAL *wal.WAL) { w.wal.Store(newWAL) }

// Enqueue places an instruction on the inbound queue. Returns false if the
// queue is full; the main loop is expected to retry on the next heartbeat.
func (w *Worker) Enqueue(instr types.Instruction) bool {
	select {
	case w.queue <- instr:
		return true
	default:
		return false
	}
}

// Pending returns a snapshot of the instructions currently queued, used by the
// main loop's housekeeping pass to re-announce REGION_OPEN entries still
// waiting.
func (w *Worker) Pending() []types.Instruction {
	n := len(w.queue)
	out := make([]types.Instruction, 0, n)
	for i := 0; i < n; i++ {
		select {
		case instr := <-w.queue:
			out = append(out, instr)
			w.queue <- instr
		default:
		}
	}
	return out
}

// Run consumes the inbound queue until ctx is cancelled, observing
// cancellation within wakeFrequency even while idle.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case instr := <-w.queue:
			w.handle(ctx, instr)
		}
	}
}

func (w *Worker) handle(ctx context.Context, instr types.Instruction) {
	var err error
	switch instr.Kind {
	case types.InstrRegionOpen:
		err = w.handleOpen(instr)
	case types.InstrRegionClose:
		err = w.handleClose(instr.Region, true)
	case types.InstrRegionCloseWithoutReport:
		err = w.handleClose(instr.Region, false)
	case types.InstrServerQuiesce:
		w.handleQuiesce()
	default:
		w.logger.Warn().Str("kind", string(instr.Kind)).Msg("worker received unexpected instruction kind")
		return
	}

	if err == nil {
		return
	}

	if isIOError(err) && instr.Retries < numRetries {
		instr.Retries++
		w.logger.Warn().Err(err).Str("region", regionName(instr.Region)).Int("retries", instr.Retries).Msg("requeuing instruction after IO error")
		if !w.Enqueue(instr) {
			w.logger.Error().Str("region", regionName(instr.Region)).Msg("could not requeue instruction, queue full")
		}
	} else {
		w.logger.Error().Err(err).Str("region", regionName(instr.Region)).Msg("instruction failed, giving up")
	}

	if isIOError(err) && w.watchdog != nil {
		w.watchdog.CheckFileSystem()
	}
}

func (w *Worker) handleOpen(instr types.Instruction) error {
	progressCount := 0
	progress := func() {
		progressCount++
		w.outbox.AppendRegion(types.ReportProcessOpen, instr.Region)
	}

	timer := metrics.NewTimer()
	r, err := w.open(instr.Region, progress)
	timer.ObserveDuration(metrics.RegionOpenDuration)
	if err != nil {
		return rserrors.Remote("open region", err)
	}

	if w.requestCompaction != nil {
		w.requestCompaction(r)
	}

	installed := w.registry.OpenRegion(r)
	if installed {
		w.wal.Load().AdvanceFloor(r.MinSequenceID())
		w.outbox.AppendRegion(types.ReportOpen, instr.Region)
		metrics.RegionsOpenedTotal.Inc()
		metrics.OpenRegions.Set(float64(w.registry.OnlineCount()))
		if w.store != nil {
			if err := w.store.Record(instr.Region); err != nil {
				w.logger.Warn().Err(err).Str("region", instr.Region.Name()).Msg("recording region ownership")
			}
		}
	}
	return nil
}

func (w *Worker) handleClose(info *types.RegionInfo, report bool) error {
	err := w.registry.CloseRegion(info.Name(), false)
	if err != nil && !errors.Is(err, rserrors.ErrNotServingRegion) {
		return rserrors.Remote("close region", err)
	}
	if report {
		w.outbox.AppendRegion(types.ReportClose, info)
	}
	metrics.RegionsClosedTotal.Inc()
	metrics.OpenRegions.Set(float64(w.registry.OnlineCount()))
	if w.store != nil {
		if err := w.store.Forget(info.Name()); err != nil {
			w.logger.Warn().Err(err).Str("region", info.Name()).Msg("forgetting region ownership")
		}
	}
	return nil
}

func (w *Worker) handleQuiesce() {
	catalogNames := make(map[string]bool)
	for _, r := range w.registry.Online() {
		if ip, ok := r.(infoProvider); ok && ip.Info().IsCatalog() {
			catalogNames[r.Name()] = true
		}
	}

	closed := w.registry.CloseUserRegions(func(name string) bool {
		return catalogNames[name]
	}, false)
	for range closed {
		metrics.RegionsClosedTotal.Inc()
	}
	metrics.OpenRegions.Set(float64(w.registry.OnlineCount()))
}

func isIOError(err error) bool {
	var remote *rserrors.RemoteException
	return errors.As(err, &remote)
}

func regionName(info *types.RegionInfo) string {
	if info == nil {
		return ""
	}
	return info.Name()
}
